package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/internal/runtime"
	"github.com/gw123/gflow-sub001/internal/streaming"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

type runFlags struct {
	mode    string
	data    string
	persist bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a workflow file and print its results",
		Long: "Run a workflow file. In step mode the run pauses before every node and waits for enter;\n" +
			"input requests are answered with one line of JSON.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFile(cmd.Context(), args[0], f, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.mode, "mode", "run", "run or step")
	cmd.Flags().StringVar(&f.data, "data", "", "trigger data as a JSON object")
	cmd.Flags().BoolVar(&f.persist, "persist", false, "record the execution in the database")
	return cmd
}

func (a *app) runFile(ctx context.Context, path string, f runFlags, in io.Reader, out io.Writer) error {
	def, err := schema.LoadDefinition(path)
	if err != nil {
		return err
	}
	var data map[string]any
	if strings.TrimSpace(f.data) != "" {
		if err := json.Unmarshal([]byte(f.data), &data); err != nil {
			return fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}

	st, err := openStack(ctx, a.cfg, a.logger, f.persist)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = st.Close(closeCtx)
	}()

	events, cancel, err := st.hub.Subscribe(ctx, streaming.EventFilter{
		Workflow:   def.Name,
		EventTypes: []string{schema.EventStepPaused, schema.EventWaitingForInput, schema.EventRunFinished},
	})
	if err != nil {
		return err
	}
	defer cancel()

	run, err := st.manager.Start(ctx, runtime.StartRequest{
		Definition:  def,
		Mode:        engine.ParseMode(f.mode),
		Trigger:     schema.TriggerCLI,
		TriggerData: data,
	})
	if err != nil {
		return err
	}

	p := &prompter{in: bufio.NewReader(in), out: out, manager: st.manager, run: run}
	if err := p.drive(ctx, events); err != nil {
		return err
	}
	return printResult(out, run)
}

// prompter answers step pauses and input requests from the terminal.
type prompter struct {
	in      *bufio.Reader
	out     io.Writer
	manager *runtime.Manager
	run     *runtime.Run
}

func (p *prompter) drive(ctx context.Context, events <-chan streaming.StreamEvent) error {
	for {
		select {
		case <-p.run.Done():
			return nil
		case <-ctx.Done():
			_ = p.manager.Terminate(context.Background(), p.run.ID)
			<-p.run.Done()
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					_ = p.manager.Terminate(context.Background(), p.run.ID)
				}
				<-p.run.Done()
				return nil
			}
			if ev.RunID != p.run.ID {
				continue
			}
			var err error
			switch ev.EventType {
			case schema.EventStepPaused:
				err = p.onPause(ctx)
			case schema.EventWaitingForInput:
				err = p.onInput(ctx)
			case schema.EventRunFinished:
				<-p.run.Done()
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *prompter) onPause(ctx context.Context) error {
	fmt.Fprint(p.out, "paused: [enter] step, [r]esume, [q]uit > ")
	line, err := p.readLine()
	if err != nil {
		return p.manager.Terminate(ctx, p.run.ID)
	}
	switch strings.ToLower(line) {
	case "r", "resume":
		return p.manager.Resume(ctx, p.run.ID)
	case "q", "quit":
		return p.manager.Terminate(ctx, p.run.ID)
	default:
		return p.manager.Step(ctx, p.run.ID)
	}
}

func (p *prompter) onInput(ctx context.Context) error {
	st := p.run.Engine().State()
	cfg := st.PendingInputConfig
	if cfg == nil {
		return nil
	}
	fmt.Fprintf(p.out, "%s is waiting for input", cfg.NodeName)
	if cfg.Title != "" {
		fmt.Fprintf(p.out, ": %s", cfg.Title)
	}
	fmt.Fprintln(p.out)
	for _, field := range cfg.Fields {
		req := ""
		if field.Required {
			req = " (required)"
		}
		fmt.Fprintf(p.out, "  %s [%s]%s\n", field.Key, field.Type, req)
	}

	for {
		fmt.Fprint(p.out, "input JSON > ")
		line, err := p.readLine()
		if err != nil {
			return p.manager.Terminate(ctx, p.run.ID)
		}
		var input map[string]any
		if err := json.Unmarshal([]byte(line), &input); err != nil {
			fmt.Fprintf(p.out, "not a JSON object: %v\n", err)
			continue
		}
		err = p.manager.SubmitInput(ctx, p.run.ID, input)
		if schema.HasCode(err, schema.ErrCodeValidation) {
			fmt.Fprintf(p.out, "%v\n", err)
			continue
		}
		return err
	}
}

func printResult(out io.Writer, run *runtime.Run) error {
	info := run.Info()
	state := info.State
	info.State = nil

	body := map[string]any{"run": info}
	if state != nil {
		body["results"] = state.NodeResults
	}
	if resp := run.Response(); resp != nil {
		body["response"] = resp
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		return err
	}
	if info.Status == schema.RunStatusFailed {
		return fmt.Errorf("run %s failed: %s", info.ID, info.Error)
	}
	return nil
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a workflow file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validateFile(args[0], cmd.OutOrStdout())
		},
	}
}

func (a *app) validateFile(path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	format := schema.FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = schema.FormatJSON
	}

	st, err := openStack(context.Background(), a.cfg, a.logger, false)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close(context.Background()) }()

	_, result := st.validator.ValidateSource(data, format)
	for _, issue := range result.Errors {
		fmt.Fprintf(out, "error   %s: %s\n", issue.Path, issue.Message)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(out, "warning %s: %s\n", issue.Path, issue.Message)
	}
	if !result.Valid() {
		return fmt.Errorf("%s: %d error(s)", path, len(result.Errors))
	}
	fmt.Fprintf(out, "%s: ok\n", path)
	return nil
}
