package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// Provider error codes AWS reports for idempotent-by-nature operations.
const (
	codeDuplicateGroup     = "InvalidGroup.Duplicate"
	codeDuplicateRule      = "InvalidPermission.Duplicate"
	codeRuleNotFound       = "InvalidPermission.NotFound"
	codeKeyPairNotFound    = "InvalidKeyPair.NotFound"
	codeGroupNotFound      = "InvalidGroup.NotFound"
	codeInstanceIDNotFound = "InvalidInstanceID.NotFound"
)

const (
	managedByTagKey = "ManagedBy"
	sshPort         = 22
)

// AWSOptions configures the AWS provider.
type AWSOptions struct {
	Region      string
	VPCID       string
	SubnetID    string
	ImageID     string
	ProjectName string
}

// AWSProvider implements Provider over EC2 and CloudWatch.
type AWSProvider struct {
	ec2  *ec2.Client
	cw   *cloudwatch.Client
	opts AWSOptions
}

// NewAWSProvider loads the default AWS credential chain for the configured
// region and builds the service clients.
func NewAWSProvider(ctx context.Context, opts AWSOptions) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &AWSProvider{
		ec2:  ec2.NewFromConfig(cfg),
		cw:   cloudwatch.NewFromConfig(cfg),
		opts: opts,
	}, nil
}

func errorCodeIs(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

func (p *AWSProvider) managedTags(resourceType ec2types.ResourceType, userID string) []ec2types.TagSpecification {
	return []ec2types.TagSpecification{
		{
			ResourceType: resourceType,
			Tags: []ec2types.Tag{
				{Key: aws.String("Name"), Value: aws.String(fmt.Sprintf("%s-%s", p.opts.ProjectName, userID))},
				{Key: aws.String("Project"), Value: aws.String(p.opts.ProjectName)},
				{Key: aws.String("UserId"), Value: aws.String(userID)},
				{Key: aws.String(managedByTagKey), Value: aws.String(p.opts.ProjectName)},
			},
		},
	}
}

// EnsureAccessGroup creates the security group, resolving a duplicate-name
// error to the existing group's ID.
func (p *AWSProvider) EnsureAccessGroup(ctx context.Context, name, description string) (string, error) {
	out, err := p.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(name),
		Description:       aws.String(description),
		VpcId:             aws.String(p.opts.VPCID),
		TagSpecifications: p.managedTags(ec2types.ResourceTypeSecurityGroup, name),
	})
	if err == nil {
		return aws.ToString(out.GroupId), nil
	}
	if !errorCodeIs(err, codeDuplicateGroup) {
		return "", fmt.Errorf("failed to create security group %s: %w", name, err)
	}

	desc, err := p.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("group-name"), Values: []string{name}},
			{Name: aws.String("vpc-id"), Values: []string{p.opts.VPCID}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up existing security group %s: %w", name, err)
	}
	if len(desc.SecurityGroups) == 0 {
		return "", fmt.Errorf("security group %s reported duplicate but not found", name)
	}
	return aws.ToString(desc.SecurityGroups[0].GroupId), nil
}

// DeleteAccessGroup removes a security group. Deleting fails while an
// instance still references the group.
func (p *AWSProvider) DeleteAccessGroup(ctx context.Context, groupID string) error {
	_, err := p.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(groupID),
	})
	if err != nil && !errorCodeIs(err, codeGroupNotFound) {
		return fmt.Errorf("failed to delete security group %s: %w", groupID, err)
	}
	return nil
}

func sshPermission(cidr string) []ec2types.IpPermission {
	return []ec2types.IpPermission{
		{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(sshPort),
			ToPort:     aws.Int32(sshPort),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String(cidr)}},
		},
	}
}

// AuthorizeSource opens tcp/22 from cidr, ignoring already-present rules.
func (p *AWSProvider) AuthorizeSource(ctx context.Context, groupID, cidr string) error {
	_, err := p.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: sshPermission(cidr),
	})
	if err != nil && !errorCodeIs(err, codeDuplicateRule) {
		return fmt.Errorf("failed to authorize %s on group %s: %w", cidr, groupID, err)
	}
	return nil
}

// RevokeSource removes the tcp/22 rule for cidr, ignoring absent rules.
func (p *AWSProvider) RevokeSource(ctx context.Context, groupID, cidr string) error {
	_, err := p.ec2.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: sshPermission(cidr),
	})
	if err != nil && !errorCodeIs(err, codeRuleNotFound) {
		return fmt.Errorf("failed to revoke %s on group %s: %w", cidr, groupID, err)
	}
	return nil
}

// RecreateKeyPair deletes any stale keypair with the same name first; the
// private half of a keypair is only available at creation time.
func (p *AWSProvider) RecreateKeyPair(ctx context.Context, name string) (KeyMaterial, error) {
	if err := p.DeleteKeyPair(ctx, name); err != nil {
		return KeyMaterial{}, err
	}

	out, err := p.ec2.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName:           aws.String(name),
		TagSpecifications: p.managedTags(ec2types.ResourceTypeKeyPair, name),
	})
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("failed to create keypair %s: %w", name, err)
	}
	return KeyMaterial{
		Name:        name,
		PrivateKey:  aws.ToString(out.KeyMaterial),
		Fingerprint: aws.ToString(out.KeyFingerprint),
	}, nil
}

// DeleteKeyPair removes a keypair, ignoring absence.
func (p *AWSProvider) DeleteKeyPair(ctx context.Context, name string) error {
	_, err := p.ec2.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
		KeyName: aws.String(name),
	})
	if err != nil && !errorCodeIs(err, codeKeyPairNotFound) {
		return fmt.Errorf("failed to delete keypair %s: %w", name, err)
	}
	return nil
}

// Launch runs a single instance with an encrypted gp3 root volume and the
// management tags the orphan sweep filters on.
func (p *AWSProvider) Launch(ctx context.Context, spec LaunchSpec) (LaunchResult, error) {
	out, err := p.ec2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:          aws.String(p.opts.ImageID),
		InstanceType:     ec2types.InstanceType(spec.InstanceType),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		KeyName:          aws.String(spec.KeyPairName),
		SecurityGroupIds: []string{spec.AccessGroupID},
		SubnetId:         aws.String(p.opts.SubnetID),
		BlockDeviceMappings: []ec2types.BlockDeviceMapping{
			{
				DeviceName: aws.String("/dev/xvda"),
				Ebs: &ec2types.EbsBlockDevice{
					VolumeSize:          aws.Int32(spec.VolumeSizeGB),
					VolumeType:          ec2types.VolumeTypeGp3,
					Encrypted:           aws.Bool(true),
					DeleteOnTermination: aws.Bool(true),
				},
			},
		},
		TagSpecifications: p.managedTags(ec2types.ResourceTypeInstance, spec.UserID),
	})
	if err != nil {
		return LaunchResult{}, fmt.Errorf("failed to launch instance for %s: %w", spec.UserID, err)
	}
	if len(out.Instances) == 0 {
		return LaunchResult{}, fmt.Errorf("launch for %s returned no instances", spec.UserID)
	}

	launched := out.Instances[0]
	return LaunchResult{
		ProviderID: aws.ToString(launched.InstanceId),
		PrivateIP:  aws.ToString(launched.PrivateIpAddress),
	}, nil
}

// StartInstance issues a start command.
func (p *AWSProvider) StartInstance(ctx context.Context, providerID string) error {
	_, err := p.ec2.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{providerID},
	})
	if err != nil {
		return fmt.Errorf("failed to start instance %s: %w", providerID, err)
	}
	return nil
}

// StopInstance issues a stop command.
func (p *AWSProvider) StopInstance(ctx context.Context, providerID string) error {
	_, err := p.ec2.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{providerID},
	})
	if err != nil {
		return fmt.Errorf("failed to stop instance %s: %w", providerID, err)
	}
	return nil
}

// TerminateInstance destroys a compute resource. Only the orphan sweep
// uses this; reclaiming a user's instance never terminates.
func (p *AWSProvider) TerminateInstance(ctx context.Context, providerID string) error {
	_, err := p.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{providerID},
	})
	if err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", providerID, err)
	}
	return nil
}

// DescribeInstance returns the provider's current state for a resource.
func (p *AWSProvider) DescribeInstance(ctx context.Context, providerID string) (InstanceState, error) {
	out, err := p.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{providerID},
	})
	if err != nil {
		if errorCodeIs(err, codeInstanceIDNotFound) {
			return InstanceState{}, fmt.Errorf("instance %s: %w", providerID, ErrInstanceNotFound)
		}
		return InstanceState{}, fmt.Errorf("failed to describe instance %s: %w", providerID, err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return InstanceState{}, fmt.Errorf("instance %s: %w", providerID, ErrInstanceNotFound)
	}

	inst := out.Reservations[0].Instances[0]
	state := InstanceState{ProviderID: providerID}
	if inst.State != nil {
		state.State = string(inst.State.Name)
	}
	state.PublicIP = aws.ToString(inst.PublicIpAddress)
	return state, nil
}

// PutStopAlarm installs the idle auto-stop alarm: average CPU below 5%
// over six 5-minute periods triggers the provider-side stop action.
func (p *AWSProvider) PutStopAlarm(ctx context.Context, alarmName, providerID string) error {
	_, err := p.cw.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(alarmName),
		AlarmDescription:   aws.String(fmt.Sprintf("Auto-stop %s when idle", providerID)),
		Namespace:          aws.String("AWS/EC2"),
		MetricName:         aws.String("CPUUtilization"),
		Statistic:          cwtypes.StatisticAverage,
		Period:             aws.Int32(300),
		EvaluationPeriods:  aws.Int32(6),
		Threshold:          aws.Float64(5.0),
		ComparisonOperator: cwtypes.ComparisonOperatorLessThanThreshold,
		ActionsEnabled:     aws.Bool(true),
		AlarmActions:       []string{fmt.Sprintf("arn:aws:automate:%s:ec2:stop", p.opts.Region)},
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("InstanceId"), Value: aws.String(providerID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put stop alarm %s: %w", alarmName, err)
	}
	return nil
}

// DeleteAlarm removes an auto-stop alarm. Deleting a missing alarm
// succeeds at the provider, so no absence handling is needed.
func (p *AWSProvider) DeleteAlarm(ctx context.Context, alarmName string) error {
	_, err := p.cw.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{
		AlarmNames: []string{alarmName},
	})
	if err != nil {
		return fmt.Errorf("failed to delete alarm %s: %w", alarmName, err)
	}
	return nil
}

// ListManagedResources finds every instance, security group, and keypair
// carrying this service's management tag.
func (p *AWSProvider) ListManagedResources(ctx context.Context) (ManagedResources, error) {
	tagFilter := ec2types.Filter{
		Name:   aws.String("tag:" + managedByTagKey),
		Values: []string{p.opts.ProjectName},
	}
	var resources ManagedResources

	instances, err := p.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{tagFilter},
	})
	if err != nil {
		return ManagedResources{}, fmt.Errorf("failed to list managed instances: %w", err)
	}
	for _, reservation := range instances.Reservations {
		for _, inst := range reservation.Instances {
			managed := ManagedInstance{ProviderID: aws.ToString(inst.InstanceId)}
			if inst.State != nil {
				managed.State = string(inst.State.Name)
			}
			for _, tag := range inst.Tags {
				if aws.ToString(tag.Key) == "UserId" {
					managed.UserID = aws.ToString(tag.Value)
				}
			}
			resources.Instances = append(resources.Instances, managed)
		}
	}

	groups, err := p.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{tagFilter},
	})
	if err != nil {
		return ManagedResources{}, fmt.Errorf("failed to list managed security groups: %w", err)
	}
	for _, group := range groups.SecurityGroups {
		resources.Groups = append(resources.Groups, ManagedGroup{
			ID:   aws.ToString(group.GroupId),
			Name: aws.ToString(group.GroupName),
		})
	}

	keyPairs, err := p.ec2.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		Filters: []ec2types.Filter{tagFilter},
	})
	if err != nil {
		return ManagedResources{}, fmt.Errorf("failed to list managed keypairs: %w", err)
	}
	for _, kp := range keyPairs.KeyPairs {
		resources.KeyPairs = append(resources.KeyPairs, aws.ToString(kp.KeyName))
	}

	return resources, nil
}
