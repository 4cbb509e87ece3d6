// Package options holds the configuration of an optimizer run.
package options

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/determined-ai/expoptimizer/internal/cluster"
	"github.com/determined-ai/expoptimizer/internal/objectstore"
	"github.com/determined-ai/expoptimizer/internal/strategy"
	"github.com/determined-ai/expoptimizer/pkg/check"
	"github.com/determined-ai/expoptimizer/pkg/logger"
	"github.com/determined-ai/expoptimizer/pkg/model"
)

// DefaultReportTime is the default interval between two termination checks.
const DefaultReportTime = model.Duration(60 * time.Second)

// Options stores all the configurable options of the optimizer.
type Options struct {
	ConfigFile string `json:"config_file"`

	ClusterID    string `json:"cluster_id"`
	ExperimentID string `json:"experiment_id"`
	// VMPrice is the path of the instance type price table.
	VMPrice string `json:"vm_price"`
	RootDir string `json:"root_dir"`

	ReportTime       model.Duration `json:"report_time"`
	CheckImmediately bool           `json:"check_immediately"`

	MetricsAddr string `json:"metrics_addr"`

	Log           logger.Config      `json:"log"`
	AWS           cluster.AWSConfig  `json:"aws"`
	ResultStorage objectstore.Config `json:"result_storage"`
	Strategy      strategy.Config    `json:"strategy"`
}

// DefaultOptions returns the options of a run before flags, environment and config file apply.
func DefaultOptions() *Options {
	return &Options{
		RootDir:    ".",
		ReportTime: DefaultReportTime,
		Log:        *logger.DefaultConfig(),
		AWS: cluster.AWSConfig{
			TagKey: cluster.DefaultTagKey,
		},
		ResultStorage: objectstore.Config{
			Type: objectstore.S3Type,
		},
		Strategy: strategy.DefaultConfig(),
	}
}

// Validate implements the check.Validatable interface.
func (o Options) Validate() []error {
	return []error{
		check.NotEmpty(o.ClusterID, "cluster id must be provided"),
		check.NotEmpty(o.ExperimentID, "experiment id must be provided"),
		check.NotEmpty(o.VMPrice, "price file must be provided"),
		check.NotEmpty(o.RootDir, "root directory must not be empty"),
		check.GreaterThan(o.ReportTime, 0, "report time must be positive"),
		check.NotEmpty(o.AWS.TagKey, "AWS cluster tag key must not be empty"),
	}
}

// Resolve fills settings that default to other settings.
func (o *Options) Resolve() {
	if o.ResultStorage.Type == objectstore.S3Type && o.ResultStorage.Region == "" {
		o.ResultStorage.Region = o.AWS.Region
	}
}

// Printable returns a printable string.
func (o Options) Printable() ([]byte, error) {
	optJSON, err := json.Marshal(o)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert config to JSON")
	}
	return optJSON, nil
}
