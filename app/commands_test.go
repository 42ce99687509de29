package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t      *testing.T
	global []string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	return &cli{t: t, global: []string{
		"--store=memory",
		"--mirror=file",
		"--mirror-path=" + filepath.Join(dir, "mirror.json"),
		"--profiles-dir=" + filepath.Join(dir, "profiles"),
	}}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	p := newParser(strings.NewReader(stdin), &out)
	_, err := p.ParseArgs(append(append([]string{}, c.global...), args...))
	return out.String(), err
}

func TestTagsCommands(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("", "tags", "add", "Angst", "  Time Travel ")
	require.NoError(t, err)
	assert.Equal(t, "Hidden tag: angst\nHidden tag: time travel\n", out)

	out, err = c.run("", "tags", "list")
	require.NoError(t, err)
	assert.Equal(t, "angst\ntime travel\n", out)

	_, err = c.run("", "tags", "remove", "ANGST")
	require.NoError(t, err)

	out, err = c.run("", "tags", "export")
	require.NoError(t, err)
	assert.JSONEq(t, `["time travel"]`, out)
}

func TestTagsImportRejectsInvalidData(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(`{"tags": ["angst"]}`, "tags", "import")
	require.Error(t, err)

	out, err := c.run(`["Angst", "fluff"]`, "tags", "import", "-")
	require.NoError(t, err)
	assert.Equal(t, "Hidden tags: angst, fluff\n", out)
}

func TestGroupsCommands(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("", "tags", "add", "angst")
	require.NoError(t, err)

	_, err = c.run(`{"angst": "Mood", "fluff": "Mood"}`, "groups", "import")
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "groups.json")
	_, err = c.run("", "groups", "export", file)
	require.NoError(t, err)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.JSONEq(t, `{"angst": "Mood"}`, string(data))
}

func TestFilterCommandPage(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("", "tags", "add", "angst")
	require.NoError(t, err)

	page := `<html><head></head><body><ol>` +
		`<li class="work blurb" id="work_1"><a class="tag" href="/tags/Angst/works">Angst</a></li>` +
		`</ol></body></html>`

	out, err := c.run(page, "filter")
	require.NoError(t, err)
	assert.Contains(t, out, `data-tc-wrapped="true"`)
	assert.Contains(t, out, "Hidden tag: angst")
}

func TestFilterCommandFeed(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("", "tags", "add", "angst")
	require.NoError(t, err)

	rss := `<?xml version="1.0"?><rss version="2.0"><channel><title>Works</title>` +
		`<item><title>Loop</title><link>https://archive.example/works/1</link><category>Angst</category></item>` +
		`<item><title>Tea</title><link>https://archive.example/works/2</link><category>Fluff</category></item>` +
		`</channel></rss>`

	out, err := c.run(rss, "filter", "--feed")
	require.NoError(t, err)
	assert.Contains(t, out, "<title>Tea</title>")
	assert.NotContains(t, out, "<title>Loop</title>")
}

func TestFilterCommandUnknownProfile(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("<html></html>", "filter", "--site=missing")
	require.Error(t, err)
}
