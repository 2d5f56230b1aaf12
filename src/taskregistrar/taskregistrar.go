package taskregistrar

import (
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/ecs"

	"github.com/stephenvia/portfolio-deployer/src/utils/awserrs"
)

const (
	container_name    = "job"
	log_stream_prefix = "ecs"
	default_cpu       = "512"
	default_memory    = "1024"
)

// TaskSettings describes the job definition family and its prerequisites.
type TaskSettings struct {
	Family   string
	Cluster  string
	LogGroup string
	CPU      string
	Memory   string
}

type logsAPI interface {
	CreateLogGroup(*cloudwatchlogs.CreateLogGroupInput) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(*cloudwatchlogs.PutRetentionPolicyInput) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
}

type ecsAPI interface {
	CreateCluster(*ecs.CreateClusterInput) (*ecs.CreateClusterOutput, error)
	RegisterTaskDefinition(*ecs.RegisterTaskDefinitionInput) (*ecs.RegisterTaskDefinitionOutput, error)
}

func newSession() *session.Session {
	return session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
}

var newLogs = func(region string) logsAPI {
	return cloudwatchlogs.New(newSession(), aws.NewConfig().WithRegion(region))
}

var newECS = func(region string) ecsAPI {
	return ecs.New(newSession(), aws.NewConfig().WithRegion(region))
}

// EnsureLogGroup creates the task log group and applies its retention,
// treating an already existing group as success.
func EnsureLogGroup(region string, name string, retentionDays int64) error {
	client := newLogs(region)
	_, err := client.CreateLogGroup(&cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(name),
	})
	if awserrs.Classify(err, cloudwatchlogs.ErrCodeResourceAlreadyExistsException) == awserrs.Fatal {
		return fmt.Errorf("create log group %s: %w", name, err)
	}
	_, err = client.PutRetentionPolicy(&cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(name),
		RetentionInDays: aws.Int64(retentionDays),
	})
	if err != nil {
		return fmt.Errorf("set retention on %s: %w", name, err)
	}
	return nil
}

// EnsureCluster creates the ECS cluster; creating an existing cluster by
// name is a no-op on the provider side.
func EnsureCluster(region string, name string) error {
	_, err := newECS(region).CreateCluster(&ecs.CreateClusterInput{
		ClusterName: aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("create cluster %s: %w", name, err)
	}
	return nil
}

// Register renders the Fargate job definition and registers it. Every call
// produces a new immutable revision; there is deliberately no existence
// check here.
func Register(region string, settings TaskSettings, image string, env map[string]string, roleArn string) (int64, string, error) {
	if settings.Family == "" || image == "" || settings.LogGroup == "" {
		return 0, "", fmt.Errorf("task definition requires family, image and log group")
	}
	cpu := settings.CPU
	if cpu == "" {
		cpu = default_cpu
	}
	memory := settings.Memory
	if memory == "" {
		memory = default_memory
	}

	out, err := newECS(region).RegisterTaskDefinition(&ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(settings.Family),
		RequiresCompatibilities: []*string{aws.String(ecs.CompatibilityFargate)},
		NetworkMode:             aws.String(ecs.NetworkModeAwsvpc),
		Cpu:                     aws.String(cpu),
		Memory:                  aws.String(memory),
		ExecutionRoleArn:        aws.String(roleArn),
		TaskRoleArn:             aws.String(roleArn),
		ContainerDefinitions: []*ecs.ContainerDefinition{
			{
				Name:        aws.String(container_name),
				Image:       aws.String(image),
				Essential:   aws.Bool(true),
				Environment: environment(env),
				LogConfiguration: &ecs.LogConfiguration{
					LogDriver: aws.String(ecs.LogDriverAwslogs),
					Options: map[string]*string{
						"awslogs-group":         aws.String(settings.LogGroup),
						"awslogs-region":        aws.String(region),
						"awslogs-stream-prefix": aws.String(log_stream_prefix),
					},
				},
			},
		},
	})
	if err != nil {
		return 0, "", fmt.Errorf("register task definition %s: %w", settings.Family, err)
	}
	def := out.TaskDefinition
	return aws.Int64Value(def.Revision), aws.StringValue(def.TaskDefinitionArn), nil
}

// environment renders the variable map in a stable order.
func environment(env map[string]string) []*ecs.KeyValuePair {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]*ecs.KeyValuePair, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, &ecs.KeyValuePair{
			Name:  aws.String(key),
			Value: aws.String(env[key]),
		})
	}
	return pairs
}
