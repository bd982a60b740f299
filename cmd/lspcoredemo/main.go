// Command lspcoredemo wires a Transport, RPC Client, and Session
// together against a single language server and prints its lifecycle
// events to stdout. It exists to exercise the full stack end to end; it
// is not an editor integration (spec.md §1 keeps that out of scope).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/firi/lspcore/internal/config"
	"github.com/firi/lspcore/internal/hostmanager"
	"github.com/firi/lspcore/internal/logger"
	"github.com/firi/lspcore/internal/protocol"
	"github.com/firi/lspcore/internal/rpc"
	"github.com/firi/lspcore/internal/session"
	"github.com/firi/lspcore/internal/transport"
	"github.com/firi/lspcore/internal/watch"
)

type printingManager struct {
	log *logger.FileLogger
}

func (m *printingManager) Alive() bool { return true }

func (m *printingManager) HandleStderrLog(line string) {
	fmt.Fprintf(os.Stderr, "[server] %s\n", line)
}

func (m *printingManager) OnPostInitialize() {
	fmt.Println("server ready")
}

func (m *printingManager) OnPostExit(exitCode int, err error) {
	fmt.Printf("server exited: code=%d err=%v\n", exitCode, err)
}

func (m *printingManager) HandleMessageRequest(params json.RawMessage, requestID json.RawMessage) {
	fmt.Printf("message request: %s\n", string(params))
}

func (m *printingManager) HandleShowMessage(params json.RawMessage) {
	fmt.Printf("message: %s\n", string(params))
}

func (m *printingManager) HandleLogMessage(params json.RawMessage) {
	m.log.Debug("server log: %s", string(params))
}

func (m *printingManager) ApplyWorkspaceEdit(params json.RawMessage, requestID json.RawMessage) {
	fmt.Printf("apply edit requested: %s\n", string(params))
}

func (m *printingManager) ReceiveDiagnostics(serverName string, params json.RawMessage) {
	fmt.Printf("[%s] diagnostics: %s\n", serverName, string(params))
}

var _ hostmanager.Manager = (*printingManager)(nil)

func main() {
	var (
		configPath       string
		workspace        string
		logPath          string
		watchSubprojects bool
	)

	root := &cobra.Command{
		Use:   "lspcoredemo",
		Short: "Drive a single language server through an initialize/shutdown cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, workspace, logPath, watchSubprojects)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML server config (see internal/config)")
	root.Flags().StringVar(&workspace, "workspace", "", "workspace folder path to advertise to the server")
	root.Flags().StringVar(&logPath, "log-file", "", "optional structured log file")
	root.Flags().BoolVar(&watchSubprojects, "watch-subprojects", false, "watch workspace for added/removed subdirectories and report them as workspace folders")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, workspace, logPath string, watchSubprojects bool) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Settings{
		FilePath:  logPath,
		FileLevel: logger.LevelDebug,
		Correlate: cfg.ID.String(),
		MirrorTo:  os.Stderr,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	var folders []protocol.WorkspaceFolder
	if workspace != "" {
		folders = []protocol.WorkspaceFolder{{
			URI:  "file://" + workspace,
			Name: strings.TrimSuffix(workspace, "/"),
			Path: workspace,
		}}
	}

	client := rpc.New(nil, log) // sender wired in below, after Transport exists
	sess := session.New(cfg, folders, client, &printingManager{log: log}, log)

	tr, err := transport.New(cfg.Transport, sess.Callbacks())
	if err != nil {
		return fmt.Errorf("lspcoredemo: start transport: %w", err)
	}

	rebindSender(client, tr)

	if err := sess.Initialize(); err != nil {
		return fmt.Errorf("lspcoredemo: initialize: %w", err)
	}

	if watchSubprojects && workspace != "" {
		fw, err := watch.New(workspace, sess.UpdateFolders)
		if err != nil {
			return fmt.Errorf("lspcoredemo: watch workspace: %w", err)
		}
		defer fw.Stop()
	}

	time.Sleep(2 * time.Second)
	sess.End()
	time.Sleep(500 * time.Millisecond)
	return nil
}

// rebindSender closes the loop between Client and Transport: Client is
// built first with a nil Sender (so the Session can register its method
// handlers before anything can arrive), and Transport needs the
// Session's Callbacks at construction (so inbound frames have somewhere
// to go). SetSender then binds the Transport without reaching for a
// mutable global.
func rebindSender(c *rpc.Client, tr *transport.Transport) {
	c.SetSender(tr)
}
