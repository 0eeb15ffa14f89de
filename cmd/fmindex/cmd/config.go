package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/fmindex/configs"
	"github.com/Aman-CERP/fmindex/internal/config"
	"github.com/Aman-CERP/fmindex/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the user configuration file and inspect the effective
configuration.

Layers, later ones winning:
  built-in defaults
  user config (~/.config/fmindex/config.yaml)
  project config (fmindex.yaml)
  FMINDEX_* environment variables`,
		Example: `  fmindex config init
  fmindex config init --project
  fmindex config show --source user --json
  fmindex config validate`,
	}

	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd(), newConfigPathCmd(), newConfigValidateCmd())
	return cmd
}

// configTarget is a file `config init` may write.
type configTarget struct {
	label string
	path  string
	// existing is the file already in place, or "".
	existing string
	// render produces the new file contents.
	render func() ([]byte, error)
}

func userConfigTarget() configTarget {
	path := config.GetUserConfigPath()
	t := configTarget{label: "user", path: path}
	if config.UserConfigExists() {
		t.existing = path
	}
	t.render = func() ([]byte, error) {
		cfg := config.NewConfig()
		if t.existing != "" {
			loaded, err := config.LoadFile(t.existing)
			if err != nil {
				return nil, fmt.Errorf("load existing config: %w", err)
			}
			cfg = loaded
		}
		return yaml.Marshal(cfg)
	}
	return t
}

func projectConfigTarget() (configTarget, error) {
	wd, err := os.Getwd()
	if err != nil {
		return configTarget{}, err
	}
	return configTarget{
		label:    "project",
		path:     filepath.Join(wd, config.ProjectFileNames[0]),
		existing: config.FindProjectFile(wd),
		render:   func() ([]byte, error) { return []byte(configs.ProjectConfigTemplate), nil },
	}, nil
}

func newConfigInitCmd() *cobra.Command {
	var force, project bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Create the user configuration file holding every default.

With --force an existing file is backed up, then rewritten with your
values kept and any missing settings filled in.

With --project an annotated fmindex.yaml is written to the current
directory instead; --force replaces an existing one with the template.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := userConfigTarget()
			if project {
				var err error
				if target, err = projectConfigTarget(); err != nil {
					return err
				}
			}
			return writeConfigTarget(output.New(cmd.OutOrStdout()), target, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rewrite an existing configuration")
	cmd.Flags().BoolVar(&project, "project", false, "Write a project fmindex.yaml template")

	return cmd
}

func writeConfigTarget(out *output.Writer, t configTarget, force bool) error {
	if t.existing != "" && !force {
		out.Warningf("%s configuration already exists", capitalize(t.label))
		out.KeyValue("Location", t.existing)
		out.Status("", "Use --force to rewrite it")
		return nil
	}

	data, err := t.render()
	if err != nil {
		return err
	}
	backup, err := config.WriteFileWithBackup(t.path, data)
	if err != nil {
		return err
	}

	out.Successf("Wrote %s configuration", t.label)
	out.KeyValue("Location", t.path)
	if backup != "" {
		out.KeyValue("Backup", backup)
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// configSources are the --source values of `config show`.
var configSources = map[string]func() (*config.Config, error){
	"merged": loadConfig,
	"user": func() (*config.Config, error) {
		if !config.UserConfigExists() {
			return nil, fmt.Errorf("no user config at %s; run 'fmindex config init'", config.GetUserConfigPath())
		}
		return config.LoadFile(config.GetUserConfigPath())
	},
	"defaults": func() (*config.Config, error) { return config.NewConfig(), nil },
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			load, ok := configSources[source]
			if !ok {
				return fmt.Errorf("unknown source %q (use: merged, user, defaults)", source)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration and its shard directories",
		Long: `Validate loads the merged configuration, which fails on any invalid
setting, then checks that every shard directory named under indexes
exists.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			var missing int
			for _, idx := range cfg.Indexes {
				for _, s := range idx.Shards {
					if info, err := os.Stat(s.Dir); err != nil || !info.IsDir() {
						out.Errorf("index %s: shard %s not found", idx.Name, s.Dir)
						missing++
					}
				}
			}
			if missing > 0 {
				return fmt.Errorf("%d shard director%s missing", missing, plural(missing, "y", "ies"))
			}
			out.Successf("Configuration is valid (%d indexes)", len(cfg.Indexes))
			return nil
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
