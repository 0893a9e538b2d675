package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagerender/internal/config"
	"github.com/JakeFAU/pagerender/internal/scrape"
	"github.com/JakeFAU/pagerender/internal/server"
)

type stubEngine struct{}

func (stubEngine) Render(_ context.Context, url string) (string, error) {
	return "<html>" + url + "</html>", nil
}

func (stubEngine) Alive() bool { return true }

func (stubEngine) Close() error { return nil }

func useStubs(t *testing.T) {
	t.Helper()
	prevOpts, prevLoad, prevRun := buildOptions, loadConfig, runServer
	t.Cleanup(func() {
		buildOptions, loadConfig, runServer = prevOpts, prevLoad, prevRun
	})
	buildOptions = []server.Option{
		server.WithLogger(zap.NewNop()),
		server.WithEngineFactory(func(context.Context) (scrape.Engine, error) { return stubEngine{}, nil }),
	}
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRenderCommandPrintsHTML(t *testing.T) {
	useStubs(t)

	out, err := execute("render", "https://Example.com/page")
	require.NoError(t, err)
	require.Equal(t, "<html>https://example.com/page</html>\n", out)
}

func TestRenderCommandRejectsInvalidURL(t *testing.T) {
	useStubs(t)

	_, err := execute("render", "ftp://bad")
	require.Error(t, err)
	require.True(t, scrape.IsInvalidInput(err))
}

func TestRenderCommandRequiresOneArg(t *testing.T) {
	useStubs(t)

	_, err := execute("render")
	require.Error(t, err)
}

func TestServeCommandBuildsAndRuns(t *testing.T) {
	useStubs(t)

	var ran bool
	runServer = func(cmd *cobra.Command, app *server.App) error {
		ran = true
		require.NotNil(t, app.Handler())
		return nil
	}

	_, err := execute("serve")
	require.NoError(t, err)
	require.True(t, ran)
}

func TestConfigErrorsSurface(t *testing.T) {
	useStubs(t)
	loadConfig = func(string) (config.Config, error) {
		return config.Config{}, errors.New("bad config")
	}

	_, err := execute("serve")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "bad config"))
}
