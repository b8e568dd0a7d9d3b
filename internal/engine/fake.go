package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
)

// Fake is an in-memory Engine for tests. Committed image ids are
// content-addressed from their lineage (parent id, copied content, executed
// command, config changes), so repeating the same steps yields the same ids
// and cache behavior can be asserted without a daemon.
//
// Failure injection: FailPull fails pulls by reference, FailCommands maps a
// command substring to a non-zero exit code, and Logs programs the output a
// container reports.
type Fake struct {
	mu sync.Mutex

	images     map[string]*ImageInfo
	refs       map[string]string
	containers map[string]*fakeContainer
	nextCtr    int
	nextPort   int

	FailPull     map[string]error
	FailCommands map[string]int64
	Logs         map[string]string

	Pulled   []string
	Executed []string
	Tagged   map[string]string
	Saved    []string
}

type fakeContainer struct {
	imageID  string
	cmd      []string
	copies   []string
	exitCode int64
	started  bool
	removed  bool
	logs     string
	bindings []PortBinding
}

func NewFake() *Fake {
	return &Fake{
		images:       map[string]*ImageInfo{},
		refs:         map[string]string{},
		containers:   map[string]*fakeContainer{},
		nextPort:     32768,
		FailPull:     map[string]error{},
		FailCommands: map[string]int64{},
		Logs:         map[string]string{},
		Tagged:       map[string]string{},
	}
}

func (f *Fake) PullImage(ctx context.Context, imageRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.FailPull[imageRef]; err != nil {
		return "", err
	}

	id := digest.FromString("image:" + imageRef).String()
	if _, ok := f.images[id]; !ok {
		f.images[id] = &ImageInfo{ID: id}
	}
	f.refs[imageRef] = id
	f.Pulled = append(f.Pulled, imageRef)

	return id, nil
}

func (f *Fake) InspectImage(ctx context.Context, imageRef string) (*ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.lookupImage(imageRef)
	if err != nil {
		return nil, err
	}

	return copyInfo(info), nil
}

func (f *Fake) TagImage(ctx context.Context, imageID, imageRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.lookupImage(imageID)
	if err != nil {
		return err
	}

	f.refs[imageRef] = info.ID
	info.RepoTags = append(info.RepoTags, imageRef)
	f.Tagged[imageRef] = info.ID

	return nil
}

func (f *Fake) SaveImage(ctx context.Context, imageRef string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.lookupImage(imageRef)
	if err != nil {
		return nil, err
	}
	f.Saved = append(f.Saved, imageRef)

	return io.NopCloser(strings.NewReader("image-tarball:" + info.ID)), nil
}

func (f *Fake) CreateContainer(ctx context.Context, opts CreateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.lookupImage(opts.Image)
	if err != nil {
		return "", err
	}

	f.nextCtr++
	id := fmt.Sprintf("ctr-%d", f.nextCtr)

	// without an explicit command the container runs the image's baked one
	cmd := opts.Cmd
	if len(cmd) == 0 {
		cmd = info.Cmd
	}

	ctr := &fakeContainer{imageID: info.ID, cmd: cmd}
	for spec, hostPort := range opts.PortBindings {
		if hostPort == "" {
			f.nextPort++
			hostPort = strconv.Itoa(f.nextPort)
		}
		ctr.bindings = append(ctr.bindings, PortBinding{ContainerPort: spec, HostPort: hostPort})
	}
	f.containers[id] = ctr

	return id, nil
}

func (f *Fake) StartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctr, err := f.lookupContainer(containerID)
	if err != nil {
		return err
	}

	cmdline := strings.Join(ctr.cmd, " ")
	ctr.started = true
	ctr.logs = f.Logs[cmdline]
	for substr, code := range f.FailCommands {
		if strings.Contains(cmdline, substr) {
			ctr.exitCode = code
		}
	}
	f.Executed = append(f.Executed, cmdline)

	return nil
}

func (f *Fake) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctr, err := f.lookupContainer(containerID)
	if err != nil {
		return 0, err
	}
	if !ctr.started {
		return 0, fmt.Errorf("container %s not started", containerID)
	}

	return ctr.exitCode, nil
}

func (f *Fake) CopyToContainer(ctx context.Context, containerID, destPath string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ctr, err := f.lookupContainer(containerID)
	if err != nil {
		return err
	}
	ctr.copies = append(ctr.copies, destPath+":"+digest.FromBytes(data).String())

	return nil
}

func (f *Fake) CommitContainer(ctx context.Context, containerID string, opts CommitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctr, err := f.lookupContainer(containerID)
	if err != nil {
		return "", err
	}

	material := strings.Join([]string{
		ctr.imageID,
		strings.Join(ctr.cmd, " "),
		strings.Join(ctr.copies, ","),
		strings.Join(opts.Changes, "\n"),
	}, "|")
	id := digest.FromString("commit:" + material).String()

	parent := f.images[ctr.imageID]
	info := copyInfo(parent)
	info.ID = id
	info.RepoTags = nil
	for _, change := range opts.Changes {
		if err := applyChange(info, change); err != nil {
			return "", err
		}
	}
	f.images[id] = info

	return id, nil
}

func (f *Fake) RemoveContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctr, err := f.lookupContainer(containerID)
	if err != nil {
		return err
	}
	ctr.removed = true

	return nil
}

func (f *Fake) ContainerLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctr, err := f.lookupContainer(containerID)
	if err != nil {
		return err
	}

	_, err = io.WriteString(stdout, ctr.logs)
	return err
}

func (f *Fake) PortBindings(ctx context.Context, containerID string) ([]PortBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctr, err := f.lookupContainer(containerID)
	if err != nil {
		return nil, err
	}

	return append([]PortBinding(nil), ctr.bindings...), nil
}

// LiveContainers counts containers that were created but never removed. A
// clean pipeline leaves zero behind, success or failure.
func (f *Fake) LiveContainers() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	live := 0
	for _, ctr := range f.containers {
		if !ctr.removed {
			live++
		}
	}

	return live
}

// ExecutionCount reports how many started containers ran a command containing
// substr.
func (f *Fake) ExecutionCount(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, cmdline := range f.Executed {
		if strings.Contains(cmdline, substr) {
			count++
		}
	}

	return count
}

func (f *Fake) lookupImage(imageRef string) (*ImageInfo, error) {
	if id, ok := f.refs[imageRef]; ok {
		imageRef = id
	}
	info, ok := f.images[imageRef]
	if !ok {
		return nil, fmt.Errorf("no such image: %s", imageRef)
	}

	return info, nil
}

func (f *Fake) lookupContainer(containerID string) (*fakeContainer, error) {
	ctr, ok := f.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("no such container: %s", containerID)
	}

	return ctr, nil
}

func copyInfo(info *ImageInfo) *ImageInfo {
	dup := *info
	dup.RepoTags = append([]string(nil), info.RepoTags...)
	dup.RepoDigests = append([]string(nil), info.RepoDigests...)
	dup.Env = append([]string(nil), info.Env...)
	dup.Cmd = append([]string(nil), info.Cmd...)
	dup.Entrypoint = append([]string(nil), info.Entrypoint...)
	dup.ExposedPorts = append([]string(nil), info.ExposedPorts...)
	dup.Labels = map[string]string{}
	for k, v := range info.Labels {
		dup.Labels[k] = v
	}

	return &dup
}

// applyChange interprets the Dockerfile-form config instructions commits use.
func applyChange(info *ImageInfo, change string) error {
	instruction, rest, _ := strings.Cut(change, " ")

	switch instruction {
	case "LABEL":
		key, value, err := parseAssignment(rest)
		if err != nil {
			return fmt.Errorf("bad change %q: %w", change, err)
		}
		info.Labels[key] = value
	case "ENV":
		key, value, err := parseAssignment(rest)
		if err != nil {
			return fmt.Errorf("bad change %q: %w", change, err)
		}
		info.Env = setEnv(info.Env, key, value)
	case "EXPOSE":
		for _, port := range info.ExposedPorts {
			if port == rest {
				return nil
			}
		}
		info.ExposedPorts = append(info.ExposedPorts, rest)
		sort.Strings(info.ExposedPorts)
	case "CMD":
		var cmd []string
		if err := json.Unmarshal([]byte(rest), &cmd); err != nil {
			return fmt.Errorf("bad change %q: %w", change, err)
		}
		info.Cmd = cmd
	default:
		return fmt.Errorf("unsupported change %q", change)
	}

	return nil
}

func parseAssignment(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", fmt.Errorf("missing '='")
	}

	if strings.HasPrefix(value, `"`) {
		unquoted, err := strconv.Unquote(value)
		if err != nil {
			return "", "", err
		}
		value = unquoted
	}

	return key, value, nil
}

func setEnv(env []string, key, value string) []string {
	entry := key + "=" + value
	for i, existing := range env {
		if strings.HasPrefix(existing, key+"=") {
			env[i] = entry
			return env
		}
	}

	return append(env, entry)
}
