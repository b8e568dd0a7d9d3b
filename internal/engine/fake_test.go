package engine

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeCommitAppliesChanges(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	base, err := f.PullImage(ctx, "docker.io/library/python@sha256:abc")
	require.NoError(t, err)

	ctr, err := f.CreateContainer(ctx, CreateOptions{Image: base, Cmd: []string{"true"}})
	require.NoError(t, err)

	id, err := f.CommitContainer(ctx, ctr, CommitOptions{Changes: []string{
		`LABEL maintainer="FastSurvey <support@fastsurvey.de>"`,
		`LABEL commit_sha=""`,
		`ENV COMMIT_SHA="0b7e3a1"`,
		`ENV COMMIT_SHA="override"`,
		`EXPOSE 8000/tcp`,
		`CMD ["uvicorn","app.main:app"]`,
	}})
	require.NoError(t, err)

	info, err := f.InspectImage(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "FastSurvey <support@fastsurvey.de>", info.Labels["maintainer"])
	assert.Equal(t, "", info.Labels["commit_sha"])
	assert.Contains(t, info.Labels, "commit_sha")
	assert.Equal(t, []string{"COMMIT_SHA=override"}, info.Env)
	assert.Equal(t, []string{"8000/tcp"}, info.ExposedPorts)
	assert.Equal(t, []string{"uvicorn", "app.main:app"}, info.Cmd)
}

func TestFakeCommitIsContentAddressed(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	base, err := f.PullImage(ctx, "python@sha256:abc")
	require.NoError(t, err)

	commit := func(changes []string) string {
		ctr, err := f.CreateContainer(ctx, CreateOptions{Image: base, Cmd: []string{"true"}})
		require.NoError(t, err)
		id, err := f.CommitContainer(ctx, ctr, CommitOptions{Changes: changes})
		require.NoError(t, err)
		return id
	}

	a := commit([]string{"EXPOSE 8000/tcp"})
	b := commit([]string{"EXPOSE 8000/tcp"})
	c := commit([]string{"EXPOSE 9000/tcp"})

	assert.Equal(t, a, b, "identical steps on the same parent share an id")
	assert.NotEqual(t, a, c, "different steps produce different ids")
}

func TestFakeCopyAffectsCommitID(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	base, err := f.PullImage(ctx, "python@sha256:abc")
	require.NoError(t, err)

	commitWithCopy := func(content string) string {
		ctr, err := f.CreateContainer(ctx, CreateOptions{Image: base, Cmd: []string{"true"}})
		require.NoError(t, err)
		require.NoError(t, f.CopyToContainer(ctx, ctr, "/", strings.NewReader(content)))
		id, err := f.CommitContainer(ctx, ctr, CommitOptions{})
		require.NoError(t, err)
		return id
	}

	assert.Equal(t, commitWithCopy("manifest-v1"), commitWithCopy("manifest-v1"))
	assert.NotEqual(t, commitWithCopy("manifest-v1"), commitWithCopy("manifest-v2"))
}

func TestFakeFailCommands(t *testing.T) {
	f := NewFake()
	f.FailCommands["poetry install"] = 1
	f.Logs["/bin/sh -c poetry install --no-dev"] = "SolverProblemError: version conflict\n"
	ctx := context.Background()

	base, err := f.PullImage(ctx, "python@sha256:abc")
	require.NoError(t, err)

	ctr, err := f.CreateContainer(ctx, CreateOptions{
		Image: base,
		Cmd:   []string{"/bin/sh", "-c", "poetry install --no-dev"},
	})
	require.NoError(t, err)
	require.NoError(t, f.StartContainer(ctx, ctr))

	code, err := f.WaitContainer(ctx, ctr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), code)

	var out strings.Builder
	require.NoError(t, f.ContainerLogs(ctx, ctr, &out, io.Discard))
	assert.Contains(t, out.String(), "SolverProblemError")

	assert.Equal(t, 1, f.ExecutionCount("poetry install"))
}

func TestFakePortBindings(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	base, err := f.PullImage(ctx, "python@sha256:abc")
	require.NoError(t, err)

	fixed, err := f.CreateContainer(ctx, CreateOptions{
		Image:        base,
		Cmd:          []string{"uvicorn"},
		PortBindings: map[string]string{"8000/tcp": "8080"},
	})
	require.NoError(t, err)

	bindings, err := f.PortBindings(ctx, fixed)
	require.NoError(t, err)
	assert.Equal(t, []PortBinding{{ContainerPort: "8000/tcp", HostPort: "8080"}}, bindings)

	ephemeral, err := f.CreateContainer(ctx, CreateOptions{
		Image:        base,
		Cmd:          []string{"uvicorn"},
		PortBindings: map[string]string{"8000/tcp": ""},
	})
	require.NoError(t, err)

	bindings, err = f.PortBindings(ctx, ephemeral)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.NotEmpty(t, bindings[0].HostPort)
}

func TestFakeLiveContainers(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	base, err := f.PullImage(ctx, "python@sha256:abc")
	require.NoError(t, err)

	ctr, err := f.CreateContainer(ctx, CreateOptions{Image: base, Cmd: []string{"true"}})
	require.NoError(t, err)
	assert.Equal(t, 1, f.LiveContainers())

	require.NoError(t, f.RemoveContainer(ctx, ctr))
	assert.Equal(t, 0, f.LiveContainers())
}

func TestFakeUnknownImage(t *testing.T) {
	f := NewFake()

	_, err := f.InspectImage(context.Background(), "sha256:deadbeef")
	assert.ErrorContains(t, err, "no such image")
}
