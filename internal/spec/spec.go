package spec

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fastsurvey/slipway/pkg/oci"
)

// DescriptorFile is the per-context descriptor name. A context without one
// builds with Default().
const DescriptorFile = "slipway.yaml"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Spec describes how the backend artifact is assembled: the base to start
// from, the files carrying the dependency manifest and the application, and
// how the artifact announces and starts itself. Everything here is decided
// before the build; runtime inputs cannot change it.
type Spec struct {
	BaseImage  string `yaml:"base_image" validate:"required"`
	Maintainer string `yaml:"maintainer" validate:"required"`
	Source     string `yaml:"source" validate:"required,url"`
	Manifest   string `yaml:"manifest" validate:"required"`
	AppDir     string `yaml:"app_dir" validate:"required"`
	AppTarget  string `yaml:"app_target" validate:"required,startswith=/"`
	AppModule  string `yaml:"app_module" validate:"required,contains=:"`
	Port       int    `yaml:"port" validate:"required,gt=0,lte=65535"`
}

// Args carry the per-build provenance inputs. Both are optional free-form
// strings; absent values are stamped as empty, never rejected.
type Args struct {
	CommitSHA  string `yaml:"commit_sha" json:"commit_sha"`
	BranchName string `yaml:"branch_name" json:"branch_name"`
}

// Default returns the FastSurvey backend descriptor.
func Default() Spec {
	return Spec{
		BaseImage:  "python:3.8",
		Maintainer: "FastSurvey <support@fastsurvey.de>",
		Source:     "https://github.com/fastsurvey/backend",
		Manifest:   "pyproject.toml",
		AppDir:     "app",
		AppTarget:  "/app",
		AppModule:  "app.main:app",
		Port:       8000,
	}
}

// Load reads a descriptor file over the defaults, so a partial file only
// overrides the keys it names.
func Load(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read build spec: %w", err)
	}

	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Spec{}, fmt.Errorf("parse build spec %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return Spec{}, err
	}

	return s, nil
}

// FromContext loads the descriptor of a build context directory, falling back
// to Default() when the context carries none.
func FromContext(contextDir string) (Spec, error) {
	s, err := Load(filepath.Join(contextDir, DescriptorFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}

	return s, err
}

func (s Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid build spec: %w", err)
	}

	if _, err := oci.NormalizeReference(s.BaseImage); err != nil {
		return fmt.Errorf("invalid build spec: %w", err)
	}

	return nil
}

// Labels returns the provenance labels stamped onto the artifact. The four
// keys are fixed so downstream tooling can filter on them.
func (s Spec) Labels(args Args) map[string]string {
	return map[string]string{
		"maintainer":  s.Maintainer,
		"source":      s.Source,
		"commit_sha":  args.CommitSHA,
		"branch_name": args.BranchName,
	}
}

// EnvVars returns the provenance environment baked into the artifact, for the
// application to read at runtime.
func (s Spec) EnvVars(args Args) map[string]string {
	return map[string]string{
		"COMMIT_SHA":  args.CommitSHA,
		"BRANCH_NAME": args.BranchName,
	}
}

// EntrypointCommand is the fixed start command of the artifact: the ASGI
// server bound to all interfaces on the declared port.
func (s Spec) EntrypointCommand() []string {
	return []string{"uvicorn", s.AppModule, "--host", "0.0.0.0", "--port", strconv.Itoa(s.Port)}
}

// ExposedPort is the engine-form port declaration, e.g. "8000/tcp".
func (s Spec) ExposedPort() string {
	return fmt.Sprintf("%d/tcp", s.Port)
}
