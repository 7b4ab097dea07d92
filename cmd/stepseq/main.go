// Package main is the entry point for the go-stepseq CLI
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"go-stepseq/api"
	"go-stepseq/config"
	"go-stepseq/debug"
	"go-stepseq/launcher"
	"go-stepseq/mcptools"
	"go-stepseq/midi"
	"go-stepseq/sequencer"
	"go-stepseq/theme"
	"go-stepseq/tracker"
	"go-stepseq/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFile  string
	debugLog    bool
	projectName string
	saveFile    string
	outPort     string
	inPort      string
	gridPort    string
	apiAddr     string
	serveAddr   string
	palettePath string
	importLabel string
	exportBank  uint8
	exportSeq   int
	outputFile  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stepseq",
	Short: "Hierarchical MIDI step sequencer",
	Long: `stepseq plays banks of sequences built from tracks of placed patterns.
Sequences are started and stopped from the terminal UI, by trigger notes on
the MIDI input, over HTTP or through MCP tools.

Examples:
  stepseq run --project live --out "IAC" --in "Keystep"
  stepseq serve --addr :8080
  stepseq export song.json -b 1 -s 0 -o song.mid
  stepseq import song.xrns --project live
  stepseq ports`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debugLog {
			if err := debug.Enable(); err != nil {
				return err
			}
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sequencer with the terminal UI",
	RunE:  runRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sequencer headless behind the HTTP API",
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the sequencer as an MCP server on stdio",
	RunE:  runMCP,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI ports",
	RunE:  runPorts,
}

var exportCmd = &cobra.Command{
	Use:   "export <save.json>",
	Short: "Render one sequence of a saved session to a Standard MIDI File",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <song.xrns>",
	Short: "Import the phrases of a Renoise song as a new save",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var infoCmd = &cobra.Command{
	Use:   "info <save.json>",
	Short: "Summarize a saved session",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var testMidiCmd = &cobra.Command{
	Use:   "test-midi",
	Short: "Play a short arpeggio on an output port",
	RunE:  runTestMidi,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (.json or .yaml), default ~/.config/go-stepseq/config.json")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Write debug log")

	for _, cmd := range []*cobra.Command{runCmd, serveCmd, mcpCmd} {
		cmd.Flags().StringVarP(&projectName, "project", "p", "", "Project to open (latest save)")
		cmd.Flags().StringVar(&saveFile, "file", "", "Save file within the project to open")
		cmd.Flags().StringVar(&outPort, "out", "", "MIDI output port (overrides config)")
		cmd.Flags().StringVar(&inPort, "in", "", "MIDI input port (overrides config)")
	}
	runCmd.Flags().StringVar(&apiAddr, "api", "", "Also serve the HTTP API on this address")
	runCmd.Flags().StringVar(&gridPort, "grid", "", `Launchpad port for the launch grid ("auto" to detect)`)
	runCmd.Flags().StringVar(&palettePath, "palette", "", "GIMP palette (.gpl) for the UI")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")

	exportCmd.Flags().Uint8VarP(&exportBank, "bank", "b", 1, "Bank")
	exportCmd.Flags().IntVarP(&exportSeq, "sequence", "s", 0, "Sequence index within the bank")
	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")

	importCmd.Flags().StringVarP(&projectName, "project", "p", "", "Project to save into (default: the song title)")
	importCmd.Flags().StringVarP(&importLabel, "label", "l", "import", "Label of the new save")

	testMidiCmd.Flags().StringVar(&outPort, "out", "", "MIDI output port")
	_ = testMidiCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(testMidiCmd)
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

// session is a running engine with its ports attached.
type session struct {
	cfg     *config.Config
	engine  *sequencer.Engine
	manager *sequencer.Manager
	output  *midi.PortOutput
	project string

	mu    sync.Mutex
	input *midi.Input
}

func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	e := sequencer.New(cfg.Engine.Options())
	cfg.Engine.Apply(e)

	s := &session{cfg: cfg, engine: e, project: projectName}
	if s.project == "" {
		s.project = cfg.UI.LastProject
	}
	if projectName != "" {
		if err := sequencer.LoadProject(e, projectName, saveFile); err != nil {
			return nil, err
		}
		debug.Log("cli", "loaded project %s", projectName)
	}
	if s.project == "" {
		s.project = "default"
	}

	s.manager = sequencer.NewManager(e, cfg.Engine.Period)
	if outPort == "" {
		outPort = cfg.Output.Port
	}
	if outPort != "" {
		s.output = midi.NewPortOutput(outPort)
		s.manager.SetOutput(s.output)
	}
	if inPort == "" {
		inPort = cfg.Input.Port
	}
	if inPort != "" {
		if err := s.openInput(inPort); err != nil {
			debug.Warn("cli", "input %q: %v", inPort, err)
		}
	}
	return s, nil
}

func (s *session) openInput(name string) error {
	port, err := midi.FindInPort(name)
	if err != nil {
		return err
	}
	in, err := midi.NewInput(port)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.input != nil {
		s.input.Close()
	}
	s.input = in
	s.manager.SetInput(in.Events())
	debug.Log("cli", "listening on %s", in.Name())
	return nil
}

// watchInput reopens the configured input whenever its port reappears.
func (s *session) watchInput(ctx context.Context) {
	if inPort == "" {
		return
	}
	w := midi.NewPortWatcher()
	go w.Run(ctx)
	go func() {
		for ev := range w.Events() {
			debug.Log("cli", "port %s %s", ev.Name, ev.Type)
			if ev.Input && ev.Type == midi.PortConnected && midi.MatchesPort(inPort, ev.Name) {
				if err := s.openInput(ev.Name); err != nil {
					debug.Warn("cli", "reopen %q: %v", ev.Name, err)
				}
			}
		}
	}()
}

func (s *session) close() {
	s.manager.Stop()
	s.mu.Lock()
	if s.input != nil {
		s.input.Close()
	}
	s.mu.Unlock()
	if s.output != nil {
		s.output.Close()
	}
	midi.CloseDriver()
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.watchInput(ctx)
	s.manager.Start()

	if apiAddr == "" {
		apiAddr = s.cfg.UI.APIAddr
	}
	if apiAddr != "" {
		srv := api.NewServer(s.engine, s.project)
		go func() {
			if err := srv.Run(apiAddr); err != nil {
				debug.Warn("cli", "api: %v", err)
			}
		}()
	}

	var palette *theme.Palette
	if palettePath != "" {
		if palette, err = theme.LoadGPL(palettePath); err != nil {
			return err
		}
	}
	th := theme.New(palette)

	if gridPort == "" {
		gridPort = s.cfg.Grid.Port
	}
	if gridPort != "" {
		lp, err := openGrid(gridPort)
		if err != nil {
			debug.Warn("cli", "grid %q: %v", gridPort, err)
		} else {
			defer lp.Close()
			go launcher.New(s.engine, lp, th).Run(ctx)
		}
	}

	m := tui.NewModel(s.engine, s.manager, th, s.project)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}

	s.cfg.UI.LastProject = s.project
	if err := s.cfg.Save(); err != nil {
		debug.Warn("cli", "save config: %v", err)
	}
	return nil
}

// openGrid opens the named Launchpad, or the first one found for "auto".
func openGrid(name string) (*midi.Launchpad, error) {
	if name == "auto" {
		ins, _, err := midi.Ports()
		if err != nil {
			return nil, err
		}
		name = ""
		for _, in := range ins {
			if midi.IsLaunchpad(in) {
				name = in
				break
			}
		}
		if name == "" {
			return nil, midi.ErrPortNotFound
		}
	}
	return midi.OpenLaunchpad(name)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.watchInput(ctx)
	s.manager.Start()

	fmt.Printf("go-stepseq API listening on %s\n", serveAddr)
	return api.NewServer(s.engine, s.project).Run(serveAddr)
}

func runMCP(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()
	s.manager.Start()
	return mcptools.Serve(s.engine, version)
}

func runPorts(cmd *cobra.Command, args []string) error {
	defer midi.CloseDriver()
	ins, outs, err := midi.Ports()
	if err != nil {
		return err
	}
	fmt.Println("=== MIDI Input Ports ===")
	for i, name := range ins {
		fmt.Printf("  %d: %s\n", i, name)
	}
	fmt.Println("\n=== MIDI Output Ports ===")
	for i, name := range outs {
		fmt.Printf("  %d: %s\n", i, name)
	}
	return nil
}

func loadSave(path string) (*sequencer.Engine, error) {
	e := sequencer.New(sequencer.DefaultOptions())
	if err := e.Load(path); err != nil {
		return nil, err
	}
	return e, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	e, err := loadSave(args[0])
	if err != nil {
		return err
	}
	output := outputFile
	if output == "" {
		output = fmt.Sprintf("%s-bank%d-seq%d.mid", strings.TrimSuffix(args[0], ".json"), exportBank, exportSeq+1)
	}
	if err := e.ExportSMFFile(exportBank, exportSeq, output); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", output)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	song, err := tracker.Open(args[0])
	if err != nil {
		return err
	}
	e := sequencer.New(cfg.Engine.Options())
	cfg.Engine.Apply(e)
	if err := e.Import(song, cfg.Import.Options()); err != nil {
		return err
	}

	project := projectName
	if project == "" {
		project = song.Title
	}
	name, err := sequencer.SaveProject(e, project, importLabel)
	if err != nil {
		return err
	}
	st := e.Stats()
	fmt.Printf("Imported %q: %d banks, %d sequences, %d notes -> %s/%s\n",
		song.Title, st.Banks, st.Sequences, st.Notes, project, name)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	e, err := loadSave(args[0])
	if err != nil {
		return err
	}
	st := e.Stats()
	fmt.Printf("tempo %.2f  %d/4  banks %d  sequences %d  patterns %d  notes %d\n",
		st.Tempo, st.BeatsPerBar, st.Banks, st.Sequences, st.Patterns, st.Notes)
	for _, bank := range e.Banks() {
		b := e.Bank(bank)
		fmt.Printf("bank %d\n", bank)
		for i, s := range b.Sequences() {
			name := s.Name()
			if name == "" {
				name = "-"
			}
			fmt.Printf("  %2d %-16s %-11s tracks %d length %d\n", i, name, s.PlayMode(), s.TrackCount(), s.Length())
		}
	}
	return nil
}

func runTestMidi(cmd *cobra.Command, args []string) error {
	out := midi.NewPortOutput(outPort)
	defer midi.CloseDriver()
	defer out.Close()

	e := sequencer.New(sequencer.DefaultOptions())
	e.SetOutput(out)
	fmt.Printf("Playing on %s...\n", outPort)
	for _, note := range []uint8{60, 64, 67, 72} {
		if err := e.PlayNote(note, 100, 0, 200*time.Millisecond); err != nil {
			return err
		}
		time.Sleep(250 * time.Millisecond)
	}
	return nil
}
