package builder_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"

	"github.com/fastsurvey/slipway/internal/builder"
	"github.com/fastsurvey/slipway/internal/engine"
	"github.com/fastsurvey/slipway/internal/spec"
	"github.com/fastsurvey/slipway/pkg/lock"
	"github.com/fastsurvey/slipway/pkg/oci"
)

func ExampleBuilder_Build() {
	contextDir, _ := os.MkdirTemp("", "slipway-context")
	defer os.RemoveAll(contextDir)
	outputDir, _ := os.MkdirTemp("", "slipway-artifacts")
	defer os.RemoveAll(outputDir)

	_ = os.WriteFile(filepath.Join(contextDir, "pyproject.toml"), []byte("[tool.poetry]\n"), 0o644)
	_ = os.MkdirAll(filepath.Join(contextDir, "app"), 0o755)
	_ = os.WriteFile(filepath.Join(contextDir, "app", "main.py"), []byte("app = None\n"), 0o644)

	eng := engine.NewFake()
	resolver := &oci.StaticResolver{Digest: digest.FromString("python:3.8")}
	b := builder.NewBuilder(eng, resolver, builder.NoopCache{}, lock.NewNoOpLocker(), zerolog.Nop())

	result, err := b.Build(context.Background(), spec.Default(), builder.BuildOptions{
		ContextDir: contextDir,
		OutputDir:  outputDir,
		Args:       spec.Args{CommitSHA: "4f2d9c1", BranchName: "main"},
	})
	if err != nil {
		fmt.Println("build failed:", err)
		return
	}

	info, _ := eng.InspectImage(context.Background(), result.ImageID)
	fmt.Println("steps:", len(result.Steps))
	fmt.Println("commit:", info.Labels["commit_sha"])
	fmt.Println("port:", info.ExposedPorts[0])
	fmt.Println("cmd:", strings.Join(info.Cmd, " "))
	// Output:
	// steps: 10
	// commit: 4f2d9c1
	// port: 8000/tcp
	// cmd: uvicorn app.main:app --host 0.0.0.0 --port 8000
}
