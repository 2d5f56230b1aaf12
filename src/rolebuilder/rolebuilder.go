package rolebuilder

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/iam"

	"github.com/stephenvia/portfolio-deployer/src/utils/awserrs"
)

const (
	task_service_principal      = "ecs-tasks.amazonaws.com"
	scheduler_service_principal = "scheduler.amazonaws.com"
)

// RoleRef identifies the execution role once it is known to exist.
type RoleRef struct {
	Name string
	Arn  string
}

// PolicyInputs carries the identifiers the permission policy is scoped to.
type PolicyInputs struct {
	Region    string
	AccountID string
	Bucket    string
	LogGroup  string
	Family    string
	RoleName  string
}

type iamAPI interface {
	CreateRole(*iam.CreateRoleInput) (*iam.CreateRoleOutput, error)
	GetRole(*iam.GetRoleInput) (*iam.GetRoleOutput, error)
	PutRolePolicy(*iam.PutRolePolicyInput) (*iam.PutRolePolicyOutput, error)
}

var newClient = func(region string) iamAPI {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return iam.New(sess, aws.NewConfig().WithRegion(region))
}

// EnsureRole creates the execution role with the task/scheduler trust
// policy. An already existing role is success; its ARN is looked up instead.
func EnsureRole(region string, name string) (RoleRef, error) {
	client := newClient(region)

	trust, err := TrustPolicy()
	if err != nil {
		return RoleRef{}, err
	}
	out, err := client.CreateRole(&iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(string(trust)),
	})
	switch awserrs.Classify(err, iam.ErrCodeEntityAlreadyExistsException) {
	case awserrs.OK:
		return RoleRef{Name: name, Arn: aws.StringValue(out.Role.Arn)}, nil
	case awserrs.BenignExists:
		existing, err := client.GetRole(&iam.GetRoleInput{RoleName: aws.String(name)})
		if err != nil {
			return RoleRef{}, fmt.Errorf("get role %s: %w", name, err)
		}
		return RoleRef{Name: name, Arn: aws.StringValue(existing.Role.Arn)}, nil
	}
	return RoleRef{}, fmt.Errorf("create role %s: %w", name, err)
}

// EnsurePolicy re-puts the named inline policy wholesale; repeating it with
// the same document is a no-op in effect.
func EnsurePolicy(region string, roleName string, policyName string, document []byte) error {
	_, err := newClient(region).PutRolePolicy(&iam.PutRolePolicyInput{
		RoleName:       aws.String(roleName),
		PolicyName:     aws.String(policyName),
		PolicyDocument: aws.String(string(document)),
	})
	if err != nil {
		return fmt.Errorf("put policy %s on role %s: %w", policyName, roleName, err)
	}
	return nil
}

// TrustPolicy restricts role assumption to the job-execution and scheduler
// service principals.
func TrustPolicy() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []interface{}{
			map[string]interface{}{
				"Action": "sts:AssumeRole",
				"Principal": map[string]interface{}{
					"Service": []string{
						task_service_principal,
						scheduler_service_principal,
					},
				},
				"Effect": "Allow",
				"Sid":    "",
			},
		},
	})
}

// PermissionPolicy is the least-privilege document for the batch job and
// its scheduled invocation: the reports bucket, log writes, image pulls,
// email delivery, and running the task family.
func PermissionPolicy(in PolicyInputs) ([]byte, error) {
	bucketArn := fmt.Sprintf("arn:aws:s3:::%s", in.Bucket)
	logGroupArn := fmt.Sprintf("arn:aws:logs:%s:%s:log-group:%s", in.Region, in.AccountID, in.LogGroup)
	taskDefArn := fmt.Sprintf("arn:aws:ecs:%s:%s:task-definition/%s:*", in.Region, in.AccountID, in.Family)
	roleArn := fmt.Sprintf("arn:aws:iam::%s:role/%s", in.AccountID, in.RoleName)

	return json.Marshal(map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []interface{}{
			map[string]interface{}{
				"Effect": "Allow",
				"Action": []string{
					"s3:GetObject",
					"s3:PutObject",
				},
				"Resource": bucketArn + "/*",
			},
			map[string]interface{}{
				"Effect":   "Allow",
				"Action":   []string{"s3:ListBucket"},
				"Resource": bucketArn,
			},
			map[string]interface{}{
				"Effect": "Allow",
				"Action": []string{
					"logs:CreateLogStream",
					"logs:PutLogEvents",
				},
				"Resource": logGroupArn + ":*",
			},
			map[string]interface{}{
				"Effect": "Allow",
				"Action": []string{
					"ecr:GetAuthorizationToken",
					"ecr:BatchGetImage",
					"ecr:GetDownloadUrlForLayer",
				},
				"Resource": "*",
			},
			map[string]interface{}{
				"Effect": "Allow",
				"Action": []string{
					"ses:SendEmail",
					"ses:SendRawEmail",
				},
				"Resource": "*",
			},
			map[string]interface{}{
				"Effect":   "Allow",
				"Action":   []string{"ecs:RunTask"},
				"Resource": taskDefArn,
			},
			map[string]interface{}{
				"Effect":   "Allow",
				"Action":   []string{"iam:PassRole"},
				"Resource": roleArn,
			},
		},
	})
}
