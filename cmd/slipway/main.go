// Command slipway builds, inspects, runs and pushes backend image artifacts
// from the local machine, sharing its layer cache and locks with a running
// slipwayd.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fastsurvey/slipway/internal/builder"
	"github.com/fastsurvey/slipway/internal/config"
	"github.com/fastsurvey/slipway/internal/db"
	"github.com/fastsurvey/slipway/internal/engine"
	"github.com/fastsurvey/slipway/internal/logging"
	"github.com/fastsurvey/slipway/internal/runtime"
	"github.com/fastsurvey/slipway/internal/spec"
	"github.com/fastsurvey/slipway/pkg/lock"
	"github.com/fastsurvey/slipway/pkg/oci"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "build":
		runBuild(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "run":
		runApp(os.Args[2:])
	case "push":
		runPush(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: slipway <command> [flags]

commands:
  build    build an artifact from a context directory
  inspect  show the identity and runtime config of an artifact tarball
  run      start a built image and stream its logs
  push     upload an artifact tarball to a registry`)
}

func exitOn(err error, what string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", what, err)
		os.Exit(1)
	}
}

func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	contextDir := fs.String("context", ".", "build context directory")
	tag := fs.String("tag", "", "tag for the built image")
	commitSHA := fs.String("commit", "", "commit sha stamped into the artifact")
	branchName := fs.String("branch", "", "branch name stamped into the artifact")
	outputDir := fs.String("output", "", "artifact output directory (default from config)")
	noCache := fs.Bool("no-cache", false, "execute every step, ignoring cached layers")
	fs.Parse(args)

	cfg, err := config.Load()
	exitOn(err, "load config")
	logger := logging.NewLogger(cfg)

	absContext, err := filepath.Abs(*contextDir)
	exitOn(err, "resolve context directory")

	s, err := spec.FromContext(absContext)
	exitOn(err, "load build descriptor")

	eng, err := engine.NewDocker(cfg.DockerHost)
	exitOn(err, "connect to container engine")
	defer eng.Close()

	var cache builder.StepCache = builder.NoopCache{}
	if !*noCache {
		store, err := db.Open(cfg.DBPath)
		exitOn(err, "open database")
		defer store.Close()
		cache = store
	}

	locker, err := lock.NewFileLocker(cfg.LockDir)
	exitOn(err, "prepare lock directory")

	out := *outputDir
	if out == "" {
		out = cfg.OutputDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := builder.NewBuilder(eng, oci.NewRegistryResolver(), cache, locker, logger)
	result, err := b.Build(ctx, s, builder.BuildOptions{
		ContextDir: absContext,
		OutputDir:  out,
		Tag:        *tag,
		Args:       spec.Args{CommitSHA: *commitSHA, BranchName: *branchName},
	})
	exitOn(err, "build")

	fmt.Printf("\nBuild succeeded in %s\n\n", result.BuildTime.Round(time.Millisecond))
	for _, step := range result.Steps {
		outcome := "built"
		if step.Cached {
			outcome = "cached"
		}
		fmt.Printf("  %-22s %s\n", step.Name, outcome)
	}
	fmt.Printf("\n  Image:    %s\n", result.ImageID)
	fmt.Printf("  Base:     %s\n", result.BaseDigest)
	fmt.Printf("  Artifact: %s\n", result.ArtifactPath)
	if result.Tag != "" {
		fmt.Printf("  Tag:      %s\n", result.Tag)
	}
}

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	artifact := fs.String("artifact", "", "path to an artifact tarball (required)")
	fs.Parse(args)

	if *artifact == "" {
		fmt.Fprintln(os.Stderr, "error: -artifact is required")
		os.Exit(2)
	}

	info, err := oci.InspectArtifact(*artifact)
	exitOn(err, "inspect artifact")

	fmt.Printf("  Digest:  %s\n", info.Digest)
	fmt.Printf("  Type:    %s\n", info.MediaType)
	fmt.Printf("  Size:    %d bytes\n", info.Size)
	fmt.Printf("  Layers:  %d\n", info.LayerCount)
	if len(info.RepoTags) > 0 {
		fmt.Printf("  Tags:    %s\n", strings.Join(info.RepoTags, ", "))
	}
	if len(info.Cmd) > 0 {
		fmt.Printf("  Cmd:     %s\n", strings.Join(info.Cmd, " "))
	}
	if len(info.ExposedPorts) > 0 {
		fmt.Printf("  Ports:   %s\n", strings.Join(info.ExposedPorts, ", "))
	}
	if len(info.Labels) > 0 {
		fmt.Println("  Labels:")
		keys := make([]string, 0, len(info.Labels))
		for k := range info.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("    %s=%s\n", k, info.Labels[k])
		}
	}
	if len(info.Env) > 0 {
		fmt.Println("  Env:")
		for _, e := range info.Env {
			fmt.Printf("    %s\n", e)
		}
	}
}

func runApp(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	imageRef := fs.String("image", "", "image id or tag to run (required)")
	hostPort := fs.String("port", "", "host port for the app's declared port (default ephemeral)")
	name := fs.String("name", "", "container name")
	fs.Parse(args)

	if *imageRef == "" {
		fmt.Fprintln(os.Stderr, "error: -image is required")
		os.Exit(2)
	}

	cfg, err := config.Load()
	exitOn(err, "load config")
	logger := logging.NewLogger(cfg)

	eng, err := engine.NewDocker(cfg.DockerHost)
	exitOn(err, "connect to container engine")
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	launcher := runtime.NewLauncher(eng, logger)
	instance, err := launcher.Launch(ctx, runtime.LaunchConfig{
		ImageRef: *imageRef,
		HostPort: *hostPort,
		Name:     *name,
	})
	exitOn(err, "launch")

	for _, binding := range instance.Ports {
		fmt.Printf("  %s -> localhost:%s\n", binding.ContainerPort, binding.HostPort)
	}

	go func() {
		_ = launcher.Logs(ctx, instance, os.Stdout, os.Stderr)
	}()

	done := make(chan int64, 1)
	go func() {
		code, err := launcher.Wait(context.Background(), instance)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: wait: %v\n", err)
			code = 1
		}
		done <- code
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "stopping")
		_ = launcher.Stop(context.Background(), instance)
	case code := <-done:
		_ = launcher.Stop(context.Background(), instance)
		if code != 0 {
			fmt.Fprintf(os.Stderr, "app exited with code %d\n", code)
			os.Exit(1)
		}
	}
}

func runPush(args []string) {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	artifact := fs.String("artifact", "", "path to an artifact tarball (required)")
	ref := fs.String("ref", "", "target reference, e.g. registry.example.com/backend:latest (required)")
	fs.Parse(args)

	if *artifact == "" || *ref == "" {
		fmt.Fprintln(os.Stderr, "error: -artifact and -ref are required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolved, err := oci.PushArtifact(ctx, *artifact, *ref)
	exitOn(err, "push artifact")

	fmt.Printf("Pushed %s\n", resolved.Pinned)
}
