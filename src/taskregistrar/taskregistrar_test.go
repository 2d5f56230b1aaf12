package taskregistrar

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/stretchr/testify/assert"
)

type mockLogs struct {
	createLogGroupFunc     func(*cloudwatchlogs.CreateLogGroupInput) (*cloudwatchlogs.CreateLogGroupOutput, error)
	putRetentionPolicyFunc func(*cloudwatchlogs.PutRetentionPolicyInput) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
}

func (m *mockLogs) CreateLogGroup(in *cloudwatchlogs.CreateLogGroupInput) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	return m.createLogGroupFunc(in)
}

func (m *mockLogs) PutRetentionPolicy(in *cloudwatchlogs.PutRetentionPolicyInput) (*cloudwatchlogs.PutRetentionPolicyOutput, error) {
	return m.putRetentionPolicyFunc(in)
}

type mockECS struct {
	createClusterFunc          func(*ecs.CreateClusterInput) (*ecs.CreateClusterOutput, error)
	registerTaskDefinitionFunc func(*ecs.RegisterTaskDefinitionInput) (*ecs.RegisterTaskDefinitionOutput, error)
}

func (m *mockECS) CreateCluster(in *ecs.CreateClusterInput) (*ecs.CreateClusterOutput, error) {
	return m.createClusterFunc(in)
}

func (m *mockECS) RegisterTaskDefinition(in *ecs.RegisterTaskDefinitionInput) (*ecs.RegisterTaskDefinitionOutput, error) {
	return m.registerTaskDefinitionFunc(in)
}

func TestEnsureLogGroupBenignExists(t *testing.T) {
	retentionSet := false
	newLogs = func(region string) logsAPI {
		return &mockLogs{
			createLogGroupFunc: func(*cloudwatchlogs.CreateLogGroupInput) (*cloudwatchlogs.CreateLogGroupOutput, error) {
				return nil, awserr.New(cloudwatchlogs.ErrCodeResourceAlreadyExistsException, "exists", nil)
			},
			putRetentionPolicyFunc: func(in *cloudwatchlogs.PutRetentionPolicyInput) (*cloudwatchlogs.PutRetentionPolicyOutput, error) {
				retentionSet = true
				assert.EqualValues(t, 30, aws.Int64Value(in.RetentionInDays))
				return &cloudwatchlogs.PutRetentionPolicyOutput{}, nil
			},
		}
	}

	err := EnsureLogGroup("us-west-2", "/ecs/portfolio-tracker", 30)
	assert.Nil(t, err)
	assert.True(t, retentionSet)
}

func TestEnsureLogGroupFatal(t *testing.T) {
	newLogs = func(region string) logsAPI {
		return &mockLogs{
			createLogGroupFunc: func(*cloudwatchlogs.CreateLogGroupInput) (*cloudwatchlogs.CreateLogGroupOutput, error) {
				return nil, awserr.New("AccessDeniedException", "denied", nil)
			},
		}
	}

	assert.NotNil(t, EnsureLogGroup("us-west-2", "/ecs/portfolio-tracker", 30))
}

func TestRegisterReturnsRevision(t *testing.T) {
	var captured *ecs.RegisterTaskDefinitionInput
	newECS = func(region string) ecsAPI {
		return &mockECS{
			registerTaskDefinitionFunc: func(in *ecs.RegisterTaskDefinitionInput) (*ecs.RegisterTaskDefinitionOutput, error) {
				captured = in
				return &ecs.RegisterTaskDefinitionOutput{
					TaskDefinition: &ecs.TaskDefinition{
						Revision:          aws.Int64(3),
						TaskDefinitionArn: aws.String("arn:aws:ecs:us-west-2:123456789012:task-definition/portfolio-tracker:3"),
					},
				}, nil
			},
		}
	}

	settings := TaskSettings{
		Family:   "portfolio-tracker",
		Cluster:  "portfolio-tracker",
		LogGroup: "/ecs/portfolio-tracker",
	}
	env := map[string]string{
		"STORAGE_BUCKET":  "portfolio-tracker-reports",
		"RECIPIENT_EMAIL": "a@b.com",
		"SENDER_EMAIL":    "a@b.com",
		"REGION":          "us-west-2",
	}
	revision, arn, err := Register("us-west-2", settings, "image:abc1234", env, "arn:aws:iam::123456789012:role/PortfolioTaskRole")
	assert.Nil(t, err)
	assert.EqualValues(t, 3, revision)
	assert.Contains(t, arn, "portfolio-tracker:3")

	// Defaults and log configuration are rendered in
	assert.EqualValues(t, "512", aws.StringValue(captured.Cpu))
	assert.EqualValues(t, "1024", aws.StringValue(captured.Memory))
	container := captured.ContainerDefinitions[0]
	assert.EqualValues(t, "image:abc1234", aws.StringValue(container.Image))
	assert.EqualValues(t, "/ecs/portfolio-tracker", aws.StringValue(container.LogConfiguration.Options["awslogs-group"]))

	// Environment must come out in stable order
	var names []string
	for _, pair := range container.Environment {
		names = append(names, aws.StringValue(pair.Name))
	}
	assert.EqualValues(t, []string{"RECIPIENT_EMAIL", "REGION", "SENDER_EMAIL", "STORAGE_BUCKET"}, names)
}

func TestRegisterValidatesInput(t *testing.T) {
	newECS = func(region string) ecsAPI {
		t.Fatal("no provider call expected for malformed input")
		return nil
	}

	_, _, err := Register("us-west-2", TaskSettings{}, "", nil, "")
	assert.NotNil(t, err)
}

func TestEnsureCluster(t *testing.T) {
	newECS = func(region string) ecsAPI {
		return &mockECS{
			createClusterFunc: func(in *ecs.CreateClusterInput) (*ecs.CreateClusterOutput, error) {
				assert.EqualValues(t, "portfolio-tracker", aws.StringValue(in.ClusterName))
				return &ecs.CreateClusterOutput{}, nil
			},
		}
	}

	assert.Nil(t, EnsureCluster("us-west-2", "portfolio-tracker"))
}
