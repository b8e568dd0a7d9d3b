package builder

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fastsurvey/slipway/internal/spec"
	"github.com/fastsurvey/slipway/pkg/fs"
	"github.com/fastsurvey/slipway/pkg/oci"
)

// Pipeline is the ordered step list a descriptor evaluates to. Construction
// packs the build context, so a missing dependency manifest or app tree fails
// before any engine work starts.
type Pipeline struct {
	Steps []Step
}

func NewPipeline(contextDir string, s spec.Spec, args spec.Args, resolver oci.Resolver) (*Pipeline, error) {
	manifest, err := fs.ArchiveFile(filepath.Join(contextDir, s.Manifest), s.Manifest)
	if err != nil {
		return nil, fmt.Errorf("pack dependency manifest: %w", err)
	}

	source, err := fs.ArchiveDir(filepath.Join(contextDir, s.AppDir), strings.TrimPrefix(s.AppTarget, "/"))
	if err != nil {
		return nil, fmt.Errorf("pack application source: %w", err)
	}

	command, err := json.Marshal(s.EntrypointCommand())
	if err != nil {
		return nil, fmt.Errorf("encode entrypoint command: %w", err)
	}

	return &Pipeline{Steps: []Step{
		&resolveBaseStep{resolver: resolver, imageRef: s.BaseImage},
		&acceptArgsStep{args: args},
		&configStep{name: "stamp labels", changes: labelChanges(s, args)},
		&configStep{name: "export build env", changes: envChanges(args)},
		&runStep{name: "prepare toolchain", command: toolchainCommand},
		&runStep{name: "disable virtualenvs", command: disableVenvCommand},
		&copyStep{
			name:        "install dependencies",
			instruction: "COPY " + s.Manifest + " /",
			archive:     manifest,
			command:     installCommand,
		},
		&configStep{name: "declare port", changes: []string{"EXPOSE " + s.ExposedPort()}},
		&copyStep{
			name:        "copy source",
			instruction: "COPY " + s.AppDir + " " + s.AppTarget,
			archive:     source,
		},
		&configStep{name: "set entrypoint", changes: []string{"CMD " + string(command)}},
	}}, nil
}

// labelChanges keeps the descriptor's label order so the cache key is stable
// across builds and empty argument values still stamp their keys.
func labelChanges(s spec.Spec, args spec.Args) []string {
	return []string{
		labelChange("maintainer", s.Maintainer),
		labelChange("source", s.Source),
		labelChange("commit_sha", args.CommitSHA),
		labelChange("branch_name", args.BranchName),
	}
}

func envChanges(args spec.Args) []string {
	return []string{
		envChange("COMMIT_SHA", args.CommitSHA),
		envChange("BRANCH_NAME", args.BranchName),
	}
}
