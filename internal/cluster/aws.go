package cluster

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultTagKey is the EC2 tag whose value is the cluster id of a node.
const DefaultTagKey = "expoptimizer-cluster-id"

// AWSConfig configures the EC2 cluster manager. Launch settings left empty are copied from an
// existing node of the cluster.
type AWSConfig struct {
	Region          string `json:"region"`
	TagKey          string `json:"tag_key"`
	ImageID         string `json:"image_id"`
	SSHKeyName      string `json:"ssh_key_name"`
	SubnetID        string `json:"subnet_id"`
	SecurityGroupID string `json:"security_group_id"`
}

// awsCluster wraps an EC2 client. Nodes are recognized by the cluster tag.
type awsCluster struct {
	config AWSConfig
	client ec2iface.EC2API
	syslog *logrus.Entry
}

// NewAWS creates an EC2 backed Manager.
//
// The AWS session is created from the ambient credentials (instance role, shared credentials
// file or environment). The role needs ec2:DescribeInstances, ec2:RunInstances,
// ec2:CreateTags and ec2:TerminateInstances.
func NewAWS(config AWSConfig) (Manager, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.Region),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AWS session")
	}
	return newAWSCluster(config, ec2.New(sess)), nil
}

func newAWSCluster(config AWSConfig, client ec2iface.EC2API) *awsCluster {
	if config.TagKey == "" {
		config.TagKey = DefaultTagKey
	}
	return &awsCluster{
		config: config,
		client: client,
		syslog: logrus.WithField("component", "aws-cluster"),
	}
}

// See https://docs.aws.amazon.com/AWSEC2/latest/UserGuide/ec2-instance-lifecycle.html.
var ec2InstanceStates = map[string]InstanceState{
	ec2.InstanceStateNamePending:      Starting,
	ec2.InstanceStateNameRunning:      Running,
	ec2.InstanceStateNameStopped:      Stopped,
	ec2.InstanceStateNameStopping:     Stopping,
	ec2.InstanceStateNameShuttingDown: Terminating,
	ec2.InstanceStateNameTerminated:   Terminated,
}

func stateFromEC2State(state *ec2.InstanceState) InstanceState {
	if state == nil || state.Name == nil {
		return Unknown
	}
	if res, ok := ec2InstanceStates[*state.Name]; ok {
		return res
	}
	return Unknown
}

func (c *awsCluster) List(ctx context.Context, clusterID string) ([]*Instance, error) {
	instances, err := c.describeInstances(ctx, clusterID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot describe EC2 instances")
	}
	if len(instances) == 0 {
		return nil, errors.Wrapf(ErrClusterNotFound, "no EC2 instance tagged %s=%s",
			c.config.TagKey, clusterID)
	}
	res := newInstances(instances)
	for _, inst := range res {
		if inst.State == Unknown {
			c.syslog.Errorf("unknown instance state for instance %v", inst.ID)
		}
	}
	return res, nil
}

func (c *awsCluster) Launch(
	ctx context.Context, clusterID, instanceType string, num int,
) ([]*Instance, error) {
	if num <= 0 {
		return nil, nil
	}
	existing, err := c.describeInstances(ctx, clusterID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot describe EC2 instances")
	}
	input, err := c.runInstancesInput(clusterID, instanceType, num, existing)
	if err != nil {
		return nil, err
	}
	reservation, err := c.client.RunInstancesWithContext(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, "cannot launch EC2 instances")
	}
	launched := newInstances(reservation.Instances)
	c.syslog.Infof("launched %d/%d EC2 instances: %s", len(launched), num, FmtInstances(launched))
	return launched, nil
}

func (c *awsCluster) Terminate(ctx context.Context, clusterID string, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	res, err := c.client.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: aws.StringSlice(instanceIDs),
	})
	if err != nil {
		return errors.Wrap(err, "cannot terminate EC2 instances")
	}
	terminated := make([]*Instance, 0, len(res.TerminatingInstances))
	for _, change := range res.TerminatingInstances {
		terminated = append(terminated, &Instance{
			ID:    aws.StringValue(change.InstanceId),
			State: stateFromEC2State(change.CurrentState),
		})
	}
	c.syslog.WithField("cluster-id", clusterID).Infof(
		"terminated %d/%d EC2 instances: %s",
		len(terminated), len(instanceIDs), FmtInstances(terminated))
	return nil
}

func (c *awsCluster) StopCluster(ctx context.Context, clusterID string) error {
	instances, err := c.List(ctx, clusterID)
	switch {
	case errors.Is(err, ErrClusterNotFound):
		c.syslog.WithField("cluster-id", clusterID).Info("cluster has no instances left to stop")
		return nil
	case err != nil:
		return err
	}
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		if inst.State != Terminated && inst.State != Terminating {
			ids = append(ids, inst.ID)
		}
	}
	if len(ids) == 0 {
		c.syslog.WithField("cluster-id", clusterID).Info("cluster has no live instances to stop")
		return nil
	}
	return c.Terminate(ctx, clusterID, ids)
}

func newInstances(input []*ec2.Instance) []*Instance {
	output := make([]*Instance, 0, len(input))
	for _, inst := range input {
		output = append(output, &Instance{
			ID:           aws.StringValue(inst.InstanceId),
			InstanceType: aws.StringValue(inst.InstanceType),
			LaunchTime:   aws.TimeValue(inst.LaunchTime),
			State:        stateFromEC2State(inst.State),
		})
	}
	return output
}

func (c *awsCluster) describeInstances(
	ctx context.Context, clusterID string,
) ([]*ec2.Instance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String(fmt.Sprintf("tag:%s", c.config.TagKey)),
				Values: []*string{aws.String(clusterID)},
			},
			{
				Name: aws.String("instance-state-name"),
				Values: aws.StringSlice([]string{
					ec2.InstanceStateNamePending,
					ec2.InstanceStateNameRunning,
					ec2.InstanceStateNameStopping,
					ec2.InstanceStateNameStopped,
					ec2.InstanceStateNameShuttingDown,
				}),
			},
		},
	}
	var instances []*ec2.Instance
	err := c.client.DescribeInstancesPagesWithContext(ctx, input,
		func(page *ec2.DescribeInstancesOutput, _ bool) bool {
			for _, rsv := range page.Reservations {
				instances = append(instances, rsv.Instances...)
			}
			return true
		})
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// runInstancesInput builds the launch request for new nodes, taking unset settings from the
// first existing node of the cluster.
func (c *awsCluster) runInstancesInput(
	clusterID, instanceType string, num int, existing []*ec2.Instance,
) (*ec2.RunInstancesInput, error) {
	imageID, keyName, subnetID := c.config.ImageID, c.config.SSHKeyName, c.config.SubnetID
	var groups []*string
	if c.config.SecurityGroupID != "" {
		groups = []*string{aws.String(c.config.SecurityGroupID)}
	}
	if len(existing) > 0 {
		template := existing[0]
		if imageID == "" {
			imageID = aws.StringValue(template.ImageId)
		}
		if keyName == "" {
			keyName = aws.StringValue(template.KeyName)
		}
		if subnetID == "" {
			subnetID = aws.StringValue(template.SubnetId)
		}
		if groups == nil {
			for _, g := range template.SecurityGroups {
				groups = append(groups, g.GroupId)
			}
		}
	}
	if imageID == "" {
		return nil, errors.Errorf(
			"cannot launch into cluster %s: no image id configured and no node to copy it from",
			clusterID)
	}

	input := &ec2.RunInstancesInput{
		ImageId:                           aws.String(imageID),
		InstanceType:                      aws.String(instanceType),
		InstanceInitiatedShutdownBehavior: aws.String(ec2.ShutdownBehaviorTerminate),
		MaxCount:                          aws.Int64(int64(num)),
		MinCount:                          aws.Int64(int64(num)),
		TagSpecifications: []*ec2.TagSpecification{
			{
				ResourceType: aws.String(ec2.ResourceTypeInstance),
				Tags: []*ec2.Tag{
					{Key: aws.String(c.config.TagKey), Value: aws.String(clusterID)},
					{Key: aws.String("Name"), Value: aws.String(clusterID + "-node")},
				},
			},
		},
	}
	if keyName != "" {
		input.KeyName = aws.String(keyName)
	}
	if subnetID != "" {
		input.SubnetId = aws.String(subnetID)
	}
	if len(groups) > 0 {
		input.SecurityGroupIds = groups
	}
	return input, nil
}
