package main

import (
	"encoding/json"
	"os"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/determined-ai/expoptimizer/internal/optimizer"
	"github.com/determined-ai/expoptimizer/internal/options"
	"github.com/determined-ai/expoptimizer/pkg/check"
	"github.com/determined-ai/expoptimizer/pkg/logger"
	"github.com/determined-ai/expoptimizer/version"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "optimize an experiment until it finishes",
		Args:  cobra.NoArgs,
	}
	registerConfig(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		opts, err := initializeConfig()
		if err != nil {
			return err
		}
		logger.SetLogrus(opts.Log)

		printableOpts, err := opts.Printable()
		if err != nil {
			return err
		}
		log.Infof("optimizer configuration: %s", printableOpts)

		outcome, err := optimizer.Run(cmd.Context(), version.Version, *opts)
		if err != nil {
			return errors.Wrap(err, "cannot start optimizer")
		}
		if outcome.ExitCode() != 0 {
			if outcome.Err == nil {
				return errors.Errorf("optimizer %s in state %s", outcome.Status, outcome.State)
			}
			return errors.Wrapf(outcome.Err, "optimizer %s after %d cycles",
				outcome.Status, outcome.Cycles)
		}
		log.Infof("experiment %s completed after %d cycles", opts.ExperimentID, outcome.Cycles)
		return nil
	}

	return cmd
}

// initializeConfig returns the validated configuration populated from the config file,
// environment variables and command line flags.
func initializeConfig() (*options.Options, error) {
	// Fetch an initial config to get the config file path and read its settings into Viper.
	initialOpts, err := getConfig(v.AllSettings())
	if err != nil {
		return nil, err
	}

	bs, err := readConfigFile(initialOpts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err = mergeConfigBytesIntoViper(bs); err != nil {
		return nil, err
	}

	// Flags > environment > config file > defaults.
	opts, err := getConfig(v.AllSettings())
	if err != nil {
		return nil, err
	}
	opts.Resolve()

	if err := check.Validate(opts); err != nil {
		return nil, errors.Wrap(err, "command-line arguments specify illegal configuration")
	}
	return opts, nil
}

func readConfigFile(configPath string) ([]byte, error) {
	if configPath == "" {
		return nil, nil
	}
	bs, err := os.ReadFile(configPath) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "error reading configuration file")
	}
	return bs, nil
}

func mergeConfigBytesIntoViper(bs []byte) error {
	var configMap map[string]interface{}
	if err := yaml.Unmarshal(bs, &configMap); err != nil {
		return errors.Wrap(err, "error unmarshal yaml configuration file")
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return errors.Wrap(err, "error merge configuration to viper")
	}
	return nil
}

func getConfig(configMap map[string]interface{}) (*options.Options, error) {
	opts := options.DefaultOptions()
	bs, err := json.Marshal(configMap)
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal configuration map into json bytes")
	}
	if err = yaml.Unmarshal(bs, opts, yaml.DisallowUnknownFields); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal configuration")
	}
	return opts, nil
}
