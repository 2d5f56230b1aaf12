package prober

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/scheduler"

	"github.com/stephenvia/portfolio-deployer/src/utils/awserrs"
)

// Kind names a probeable resource type.
type Kind string

const (
	KindBucket     Kind = "bucket"
	KindRepository Kind = "repository"
	KindRole       Kind = "role"
	KindLogGroup   Kind = "log-group"
	KindSchedule   Kind = "schedule"
)

// Presence is the result of an existence probe. A missing resource is a
// valid negative result, not an error; errors mean the query itself failed.
type Presence struct {
	Found      bool
	Attributes map[string]string
}

type s3API interface {
	HeadBucket(*s3.HeadBucketInput) (*s3.HeadBucketOutput, error)
}

type ecrAPI interface {
	DescribeRepositories(*ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error)
}

type iamAPI interface {
	GetRole(*iam.GetRoleInput) (*iam.GetRoleOutput, error)
}

type logsAPI interface {
	DescribeLogGroups(*cloudwatchlogs.DescribeLogGroupsInput) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
}

type schedulerAPI interface {
	GetSchedule(*scheduler.GetScheduleInput) (*scheduler.GetScheduleOutput, error)
}

type ec2API interface {
	DescribeVpcs(*ec2.DescribeVpcsInput) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(*ec2.DescribeSubnetsInput) (*ec2.DescribeSubnetsOutput, error)
	DescribeSecurityGroups(*ec2.DescribeSecurityGroupsInput) (*ec2.DescribeSecurityGroupsOutput, error)
}

type ecsAPI interface {
	DescribeTaskDefinition(*ecs.DescribeTaskDefinitionInput) (*ecs.DescribeTaskDefinitionOutput, error)
}

func newSession() *session.Session {
	return session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
}

var newS3 = func(region string) s3API {
	return s3.New(newSession(), aws.NewConfig().WithRegion(region))
}

var newECR = func(region string) ecrAPI {
	return ecr.New(newSession(), aws.NewConfig().WithRegion(region))
}

var newIAM = func(region string) iamAPI {
	return iam.New(newSession(), aws.NewConfig().WithRegion(region))
}

var newLogs = func(region string) logsAPI {
	return cloudwatchlogs.New(newSession(), aws.NewConfig().WithRegion(region))
}

var newScheduler = func(region string) schedulerAPI {
	return scheduler.New(newSession(), aws.NewConfig().WithRegion(region))
}

var newEC2 = func(region string) ec2API {
	return ec2.New(newSession(), aws.NewConfig().WithRegion(region))
}

var newECS = func(region string) ecsAPI {
	return ecs.New(newSession(), aws.NewConfig().WithRegion(region))
}

// Exists probes the named resource without mutating anything.
func Exists(region string, kind Kind, id string) (Presence, error) {
	switch kind {
	case KindBucket:
		return bucketExists(region, id)
	case KindRepository:
		return repositoryExists(region, id)
	case KindRole:
		return roleExists(region, id)
	case KindLogGroup:
		return logGroupExists(region, id)
	case KindSchedule:
		return scheduleExists(region, id)
	}
	return Presence{}, fmt.Errorf("unknown resource kind: %s", kind)
}

func bucketExists(region string, name string) (Presence, error) {
	_, err := newS3(region).HeadBucket(&s3.HeadBucketInput{
		Bucket: aws.String(name),
	})
	if err != nil {
		if awserrs.IsNotFound(err, "NotFound", s3.ErrCodeNoSuchBucket) {
			return Presence{}, nil
		}
		return Presence{}, err
	}
	return Presence{Found: true}, nil
}

func repositoryExists(region string, name string) (Presence, error) {
	out, err := newECR(region).DescribeRepositories(&ecr.DescribeRepositoriesInput{
		RepositoryNames: []*string{aws.String(name)},
	})
	if err != nil {
		if awserrs.IsNotFound(err, ecr.ErrCodeRepositoryNotFoundException) {
			return Presence{}, nil
		}
		return Presence{}, err
	}
	return Presence{
		Found: true,
		Attributes: map[string]string{
			"uri": aws.StringValue(out.Repositories[0].RepositoryUri),
		},
	}, nil
}

func roleExists(region string, name string) (Presence, error) {
	out, err := newIAM(region).GetRole(&iam.GetRoleInput{
		RoleName: aws.String(name),
	})
	if err != nil {
		if awserrs.IsNotFound(err, iam.ErrCodeNoSuchEntityException) {
			return Presence{}, nil
		}
		return Presence{}, err
	}
	return Presence{
		Found: true,
		Attributes: map[string]string{
			"arn": aws.StringValue(out.Role.Arn),
		},
	}, nil
}

func logGroupExists(region string, name string) (Presence, error) {
	client := newLogs(region)
	input := &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(name),
	}

	// Prefix matching can return pages of siblings, walk them all and
	// match the exact name
	for {
		out, err := client.DescribeLogGroups(input)
		if err != nil {
			return Presence{}, err
		}
		for _, group := range out.LogGroups {
			if aws.StringValue(group.LogGroupName) == name {
				return Presence{Found: true}, nil
			}
		}
		if out.NextToken == nil {
			return Presence{}, nil
		}
		input.NextToken = out.NextToken
	}
}

func scheduleExists(region string, name string) (Presence, error) {
	out, err := newScheduler(region).GetSchedule(&scheduler.GetScheduleInput{
		Name: aws.String(name),
	})
	if err != nil {
		if awserrs.IsNotFound(err, scheduler.ErrCodeResourceNotFoundException) {
			return Presence{}, nil
		}
		return Presence{}, err
	}
	return Presence{
		Found: true,
		Attributes: map[string]string{
			"arn": aws.StringValue(out.Arn),
		},
	}, nil
}

// FindDefaultVPC returns the id of the account's default VPC. Having no
// default VPC is an error since every scheduled run depends on it.
func FindDefaultVPC(region string) (string, error) {
	out, err := newEC2(region).DescribeVpcs(&ec2.DescribeVpcsInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("isDefault"),
				Values: []*string{aws.String("true")},
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(out.Vpcs) == 0 {
		return "", fmt.Errorf("no default VPC in region %s", region)
	}
	return aws.StringValue(out.Vpcs[0].VpcId), nil
}

// FindSubnet returns a subnet inside the given VPC.
func FindSubnet(region string, vpcID string) (string, error) {
	out, err := newEC2(region).DescribeSubnets(&ec2.DescribeSubnetsInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("vpc-id"),
				Values: []*string{aws.String(vpcID)},
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(out.Subnets) == 0 {
		return "", fmt.Errorf("no subnets in VPC %s", vpcID)
	}
	return aws.StringValue(out.Subnets[0].SubnetId), nil
}

// FindSecurityGroup returns the id of the named security group in the VPC.
func FindSecurityGroup(region string, vpcID string, name string) (string, error) {
	out, err := newEC2(region).DescribeSecurityGroups(&ec2.DescribeSecurityGroupsInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("vpc-id"),
				Values: []*string{aws.String(vpcID)},
			},
			{
				Name:   aws.String("group-name"),
				Values: []*string{aws.String(name)},
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(out.SecurityGroups) == 0 {
		return "", fmt.Errorf("no security group named %q in VPC %s", name, vpcID)
	}
	return aws.StringValue(out.SecurityGroups[0].GroupId), nil
}

// LatestRevision returns the highest registered revision of a task
// definition family and its ARN.
func LatestRevision(region string, family string) (int64, string, error) {
	out, err := newECS(region).DescribeTaskDefinition(&ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(family),
	})
	if err != nil {
		return 0, "", err
	}
	def := out.TaskDefinition
	return aws.Int64Value(def.Revision), aws.StringValue(def.TaskDefinitionArn), nil
}
