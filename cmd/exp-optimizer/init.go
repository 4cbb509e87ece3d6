package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/determined-ai/expoptimizer/internal/options"
)

var v *viper.Viper

// viperKeyDelimiter marks nested values in the configuration. It is ".." rather than "." so
// that keys such as instance types ("m5.large") survive a round trip through viper.
const viperKeyDelimiter = ".."

const envPrefix = "EXPOPT_"

type configKey []string

func (c configKey) EnvName() string {
	return envPrefix + strings.ReplaceAll(strings.ToUpper(c.FlagName()), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(strings.Join(c, viperKeyDelimiter), "-", "_")
}

func (c configKey) FlagName() string {
	return strings.Join(c, "-")
}

func bind(flags *pflag.FlagSet, name configKey, value interface{}) {
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerString(flags *pflag.FlagSet, name configKey, value string, usage string) {
	flags.String(name.FlagName(), value, usage)
	bind(flags, name, value)
}

func registerStringP(
	flags *pflag.FlagSet, name configKey, shorthand, value string, usage string,
) {
	flags.StringP(name.FlagName(), shorthand, value, usage)
	bind(flags, name, value)
}

func registerBool(flags *pflag.FlagSet, name configKey, value bool, usage string) {
	flags.Bool(name.FlagName(), value, usage)
	bind(flags, name, value)
}

func registerInt(flags *pflag.FlagSet, name configKey, value int, usage string) {
	flags.Int(name.FlagName(), value, usage)
	bind(flags, name, value)
}

func registerFloat64(flags *pflag.FlagSet, name configKey, value float64, usage string) {
	flags.Float64(name.FlagName(), value, usage)
	bind(flags, name, value)
}

// registerConfig creates a fresh viper instance and registers every option on flags with its
// environment variable and default value.
func registerConfig(flags *pflag.FlagSet) {
	v = viper.NewWithOptions(viper.KeyDelimiter(viperKeyDelimiter))
	v.SetTypeByDefaultValue(true)

	defaults := options.DefaultOptions()
	name := func(components ...string) configKey { return components }

	registerString(flags, name("config-file"),
		defaults.ConfigFile, "location of config file")

	registerStringP(flags, name("cluster-id"), "c",
		defaults.ClusterID, "id of the cluster running the experiment")
	registerStringP(flags, name("experiment-id"), "e",
		defaults.ExperimentID, "id of the experiment to optimize")
	registerStringP(flags, name("vm-price"), "v",
		defaults.VMPrice, "YAML file mapping instance types to hourly prices")
	registerStringP(flags, name("root-dir"), "r",
		defaults.RootDir, "directory the run workspace is created in")
	registerString(flags, name("report-time"),
		strconv.FormatInt(defaults.ReportTime.Seconds(), 10),
		"seconds between two termination checks (or a duration such as 90s)")
	registerBool(flags, name("check-immediately"),
		defaults.CheckImmediately, "check for termination on start instead of after one interval")
	registerString(flags, name("metrics-addr"),
		defaults.MetricsAddr, "address to serve Prometheus metrics on (disabled if empty)")

	registerString(flags, name("log", "level"),
		defaults.Log.Level, "choose logging level from [trace, debug, info, warn, error, fatal]")
	registerBool(flags, name("log", "color"),
		defaults.Log.Color, "output logs in color")
	registerBool(flags, name("log", "json"),
		defaults.Log.JSON, "output logs as JSON")

	registerString(flags, name("aws", "region"),
		defaults.AWS.Region, "AWS region of the cluster")
	registerString(flags, name("aws", "tag-key"),
		defaults.AWS.TagKey, "EC2 tag holding the cluster id of a node")
	registerString(flags, name("aws", "image-id"),
		defaults.AWS.ImageID, "AMI of launched nodes (copied from the cluster if empty)")
	registerString(flags, name("aws", "ssh-key-name"),
		defaults.AWS.SSHKeyName, "SSH key of launched nodes (copied from the cluster if empty)")
	registerString(flags, name("aws", "subnet-id"),
		defaults.AWS.SubnetID, "subnet of launched nodes (copied from the cluster if empty)")
	registerString(flags, name("aws", "security-group-id"),
		defaults.AWS.SecurityGroupID,
		"security group of launched nodes (copied from the cluster if empty)")

	registerString(flags, name("result-storage", "type"),
		defaults.ResultStorage.Type, "result storage type [s3, gcs, shared_fs]")
	registerString(flags, name("result-storage", "bucket"),
		defaults.ResultStorage.Bucket, "result storage bucket")
	registerString(flags, name("result-storage", "prefix"),
		defaults.ResultStorage.Prefix, "prefix of experiment output in the bucket")
	registerString(flags, name("result-storage", "region"),
		defaults.ResultStorage.Region, "S3 region of the bucket (defaults to the AWS region)")
	registerString(flags, name("result-storage", "host-path"),
		defaults.ResultStorage.HostPath, "shared_fs directory experiments write to")

	budget := defaults.Strategy.Budget
	registerString(flags, name("strategy", "name"),
		defaults.Strategy.Name, "optimization strategy [noop, budget]")
	registerFloat64(flags, name("strategy", "budget", "max-cost-per-hour"),
		budget.MaxCostPerHour, "hourly cost the budget strategy keeps the cluster under")
	registerInt(flags, name("strategy", "budget", "min-instances"),
		budget.MinInstances, "fewest nodes the budget strategy keeps")
	registerInt(flags, name("strategy", "budget", "max-instances"),
		budget.MaxInstances, "most nodes the budget strategy launches up to")
	registerString(flags, name("strategy", "budget", "instance-type"),
		budget.InstanceType, "instance type the budget strategy launches")
	registerFloat64(flags, name("strategy", "budget", "scale-up-below-ratio"),
		budget.ScaleUpBelowRatio, "fraction of the budget a launch may fill up to")
	registerString(flags, name("strategy", "budget", "settle-timeout"),
		time.Duration(budget.SettleTimeout).String(), "how long a cluster change may take")
}
