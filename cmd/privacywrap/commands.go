package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"entity-privacy-wrapper/internal/alias"
	"entity-privacy-wrapper/internal/config"
	"entity-privacy-wrapper/internal/detect"
	"entity-privacy-wrapper/internal/logger"
	"entity-privacy-wrapper/internal/metrics"
	"entity-privacy-wrapper/internal/server"
	"entity-privacy-wrapper/internal/session"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "privacywrap",
		Short: "Mask named entities before sending text to an AI service",
		Long: `privacywrap detects people, places, organisations and other entities in
text, replaces them with placeholders such as PERSON_1, and restores the
originals in the AI reply.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./"+config.DefaultFile+" if present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(a.serveCmd(), a.detectCmd(), a.maskCmd(), a.unmaskCmd())
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	a.log = logger.NewWriter("CLI", cfg.LogLevel, cmd.ErrOrStderr())
	return nil
}

// newDetector builds the detector chain the config asks for.
func (a *app) newDetector() (*detect.Chain, error) {
	var ds []detect.Detector
	if a.cfg.UseNER {
		ds = append(ds, detect.NewNER())
	}
	if a.cfg.UseRegex {
		ds = append(ds, detect.NewRegex())
	}
	if a.cfg.GazetteerFile != "" {
		g, err := detect.LoadGazetteer(a.cfg.GazetteerFile)
		if err != nil {
			return nil, err
		}
		a.log.Infof("gazetteer", "Loaded %d terms from %s", g.Len(), a.cfg.GazetteerFile)
		ds = append(ds, g)
	}
	chain := detect.NewChain(a.log.Named("DETECT"), a.cfg.Labels, ds...)
	a.log.Debugf("detect", "Detectors: %v", chain.Detectors())
	return chain, nil
}

func (a *app) newManager(m *metrics.Metrics, capacity int) (*session.Manager, error) {
	d, err := a.newDetector()
	if err != nil {
		return nil, err
	}
	store := session.NewStore(capacity, a.cfg.SessionTTL, m)
	return session.NewManager(store, d, a.cfg.Style(), m, a.log.Named("SESSION")), nil
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review page and the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				if err := applyAddr(a.cfg, addr); err != nil {
					return err
				}
			}
			m := metrics.New()
			mgr, err := a.newManager(m, a.cfg.MaxSessions)
			if err != nil {
				return err
			}
			printBanner(cmd.OutOrStdout(), a.cfg)
			srv := server.New(a.cfg, mgr, m, a.log.Named("SERVER"))
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port (overrides config)")
	return cmd
}

func (a *app) detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect [file]",
		Short: "Print detected entities as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			mgr, err := a.newManager(nil, 1)
			if err != nil {
				return err
			}
			mentions, notices, err := mgr.DetectText(cmd.Context(), text)
			if err != nil {
				return err
			}
			printNotices(cmd.ErrOrStderr(), notices)
			if mentions == nil {
				mentions = []alias.Mention{}
			}
			return writeJSON(cmd.OutOrStdout(), mentions)
		},
	}
}

func (a *app) maskCmd() *cobra.Command {
	var mappingOut, style string
	cmd := &cobra.Command{
		Use:   "mask [file]",
		Short: "Replace detected entities with placeholders",
		Long: `mask prints the masked text on stdout. The mapping needed to restore the
reply is written to --mapping-out, or to stderr when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := a.cfg.Style()
			if style != "" {
				parsed, err := alias.ParseStyle(style)
				if err != nil {
					return err
				}
				st = parsed
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			mgr, err := a.newManager(nil, 1)
			if err != nil {
				return err
			}
			mentions, notices, err := mgr.DetectText(cmd.Context(), text)
			if err != nil {
				return err
			}
			printNotices(cmd.ErrOrStderr(), notices)

			m := alias.Build(mentions, st)
			masked := alias.Mask(detect.Prepare(text), m)
			a.log.Infof("mask", "in=%s entities=%d", logger.Fingerprint(text), m.Len())

			if mappingOut != "" {
				data, err := json.MarshalIndent(m, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(mappingOut, append(data, '\n'), 0o600); err != nil {
					return fmt.Errorf("write mapping: %w", err)
				}
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "Mapping used:")
				if err := writeJSON(cmd.ErrOrStderr(), m.Pairs()); err != nil {
					return err
				}
			}
			_, err = io.WriteString(cmd.OutOrStdout(), masked)
			return err
		},
	}
	cmd.Flags().StringVar(&mappingOut, "mapping-out", "", "write the mapping JSON to this file")
	cmd.Flags().StringVar(&style, "style", "", "placeholder style: numeric or letter (overrides config)")
	return cmd
}

func (a *app) unmaskCmd() *cobra.Command {
	var mappingFile string
	cmd := &cobra.Command{
		Use:   "unmask --mapping file [file]",
		Short: "Restore originals in a reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(mappingFile)
			if err != nil {
				return fmt.Errorf("read mapping: %w", err)
			}
			m, err := alias.ParseMapping(data, a.cfg.Style())
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			out, warnings := alias.Unmask(detect.Normalize(text), m)
			for _, w := range warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&mappingFile, "mapping", "", "mapping JSON written by mask (required)")
	_ = cmd.MarkFlagRequired("mapping")
	return cmd
}

// readInput reads the named file, or stdin when no file is given or it is "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func applyAddr(cfg *config.Config, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("--addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("--addr: bad port %q", portStr)
	}
	if host != "" {
		cfg.BindAddress = host
	}
	cfg.Port = port
	if err := cfg.Validate(); err != nil {
		return errors.Join(fmt.Errorf("--addr %s", addr), err)
	}
	return nil
}

func printNotices(w io.Writer, notices []string) {
	for _, n := range notices {
		fmt.Fprintln(w, "notice:", n)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
