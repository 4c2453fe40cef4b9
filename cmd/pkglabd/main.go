// Command pkglabd is the pkglab registry daemon: it owns the storage
// engine, publish queue, and npm-wire-protocol HTTP surface described in
// spec.md. Its own flag surface uses cobra, matching the pack's idiom for a
// small, single-command binary; the interactive multi-command CLI (up,
// down, status, pub, add, ...) that drives this daemon is an external
// collaborator per spec.md 1 and is not implemented here.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pkglab/pkglab/config"
	"github.com/pkglab/pkglab/internal/dcontext"
	"github.com/pkglab/pkglab/pkgapi"
	"github.com/pkglab/pkglab/pkgqueue"
	"github.com/pkglab/pkglab/pkgstore"
	"github.com/pkglab/pkglab/procutil"
	"github.com/pkglab/pkglab/version"
)

const (
	readyLine        = "READY"
	upstreamRegistry = "https://registry.npmjs.org"
	shutdownGrace    = 10 * time.Second
)

var (
	homeOverride string
	showVersion  bool
)

func main() {
	root := &cobra.Command{
		Use:   "pkglabd",
		Short: "pkglabd serves the local npm-compatible registry",
		RunE:  run,
	}
	root.Flags().StringVar(&homeOverride, "home", "", "override the pkglab home directory (tests only)")
	root.Flags().BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if showVersion {
		version.PrintVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = dcontext.WithLogger(ctx, dcontext.GetLoggerWithField(ctx, "mainpkg", version.Package()))

	paths, err := config.NewPaths(homeOverride)
	if err != nil {
		return err
	}
	if err := paths.EnsureDirs(); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, paths)
	if err != nil {
		var incompat *config.ErrConfigIncompatible
		if errors.As(err, &incompat) {
			return err
		}
		return fmt.Errorf("pkglabd: load config: %w", err)
	}

	store := pkgstore.New(paths.Storage)
	if err := store.LoadAll(ctx); err != nil {
		return fmt.Errorf("pkglabd: load storage: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("pkglabd: listen on port %d: %w", cfg.Port, err)
	}
	actualPort := listener.Addr().(*net.TCPAddr).Port

	queue := pkgqueue.New(&cliPubRunner{})
	upstream := pkgapi.NewHTTPUpstream(upstreamRegistry)
	router := pkgapi.NewRouter(store, queue, upstream)

	logged := handlers.CombinedLoggingHandler(os.Stdout, withRegistryHost(router, actualPort))

	srv := &http.Server{Handler: logged}

	if err := writePIDFile(paths.PID, actualPort); err != nil {
		return fmt.Errorf("pkglabd: write pid file: %w", err)
	}
	defer os.Remove(paths.PID)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	// Signal the launching process (if any) that the HTTP listener is up
	// and accepting connections, per procutil.WaitForReady's handshake.
	fmt.Println(readyLine)
	dcontext.GetLoggerWithField(ctx, "port", actualPort).Info("pkglabd: listening")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// withRegistryHost stamps every request's context with the loopback
// host:port the daemon is actually bound to, so pkgapi's packument
// handlers can rewrite dist.tarball URLs without a port passed explicitly
// through every call.
func withRegistryHost(next http.Handler, port int) http.Handler {
	hostPort := fmt.Sprintf("127.0.0.1:%d", port)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := dcontext.WithRegistryHost(r.Context(), hostPort)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type pidFile struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"startedAt"`
}

func writePIDFile(path string, port int) error {
	data, err := json.MarshalIndent(pidFile{PID: os.Getpid(), Port: port, StartedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// cliPubRunner shells out to the pkglab CLI's "pub" subcommand to actually
// execute a publish: the publish pipeline's workspace-side half (discovery,
// fingerprinting, cascade, plan, upload) runs in that separate process,
// matching spec.md 4.3's description of the queue spawning "the pub
// subprocess". The CLI binary itself is an external collaborator per
// spec.md 1.
type cliPubRunner struct{}

func (cliPubRunner) RunPublish(ctx context.Context, workspaceRoot string, args []string) error {
	result, err := procutil.Run(ctx, workspaceRoot, "pkglab", append([]string{"pub"}, args...)...)
	if err != nil {
		logrus.WithField("workspace", workspaceRoot).WithError(err).WithField("stderr", result.Stderr).
			Warn("pkglabd: pub invocation failed")
		return err
	}
	return nil
}
