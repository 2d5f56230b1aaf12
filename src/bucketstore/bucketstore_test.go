package bucketstore

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
)

type mockS3 struct {
	createBucketFunc    func(*s3.CreateBucketInput) (*s3.CreateBucketOutput, error)
	putBucketPolicyFunc func(*s3.PutBucketPolicyInput) (*s3.PutBucketPolicyOutput, error)
}

func (m *mockS3) CreateBucket(in *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
	return m.createBucketFunc(in)
}

func (m *mockS3) PutBucketPolicy(in *s3.PutBucketPolicyInput) (*s3.PutBucketPolicyOutput, error) {
	return m.putBucketPolicyFunc(in)
}

func TestEnsureCreatesWithConstraint(t *testing.T) {
	var captured *s3.CreateBucketInput
	newClient = func(region string) s3API {
		return &mockS3{
			createBucketFunc: func(in *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
				captured = in
				return &s3.CreateBucketOutput{}, nil
			},
		}
	}

	err := Ensure("us-west-2", "portfolio-tracker-reports")
	assert.Nil(t, err)
	assert.EqualValues(t, "portfolio-tracker-reports", aws.StringValue(captured.Bucket))
	assert.EqualValues(t, "us-west-2", aws.StringValue(captured.CreateBucketConfiguration.LocationConstraint))
}

func TestEnsureSkipsConstraintInUsEast1(t *testing.T) {
	newClient = func(region string) s3API {
		return &mockS3{
			createBucketFunc: func(in *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
				assert.Nil(t, in.CreateBucketConfiguration)
				return &s3.CreateBucketOutput{}, nil
			},
		}
	}

	assert.Nil(t, Ensure("us-east-1", "portfolio-tracker-reports"))
}

func TestEnsureBenignExists(t *testing.T) {
	newClient = func(region string) s3API {
		return &mockS3{
			createBucketFunc: func(*s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
				return nil, awserr.New(s3.ErrCodeBucketAlreadyOwnedByYou, "owned", nil)
			},
		}
	}

	assert.Nil(t, Ensure("us-west-2", "portfolio-tracker-reports"))
}

func TestEnsureForeignOwnerFatal(t *testing.T) {
	newClient = func(region string) s3API {
		return &mockS3{
			createBucketFunc: func(*s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
				return nil, awserr.New(s3.ErrCodeBucketAlreadyExists, "taken", nil)
			},
		}
	}

	err := Ensure("us-west-2", "portfolio-tracker-reports")
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "another account")
}

func TestEnsureFatal(t *testing.T) {
	newClient = func(region string) s3API {
		return &mockS3{
			createBucketFunc: func(*s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
				return nil, awserr.New("AccessDenied", "denied", nil)
			},
		}
	}

	assert.NotNil(t, Ensure("us-west-2", "portfolio-tracker-reports"))
}

func TestAttachPolicyScopedToRole(t *testing.T) {
	var captured *s3.PutBucketPolicyInput
	newClient = func(region string) s3API {
		return &mockS3{
			putBucketPolicyFunc: func(in *s3.PutBucketPolicyInput) (*s3.PutBucketPolicyOutput, error) {
				captured = in
				return &s3.PutBucketPolicyOutput{}, nil
			},
		}
	}

	err := AttachPolicy("us-west-2", "portfolio-tracker-reports", "arn:aws:iam::123456789012:role/PortfolioTaskRole")
	assert.Nil(t, err)
	policy := aws.StringValue(captured.Policy)
	assert.Contains(t, policy, "arn:aws:iam::123456789012:role/PortfolioTaskRole")
	assert.Contains(t, policy, "arn:aws:s3:::portfolio-tracker-reports/*")
	assert.NotContains(t, policy, "\"Principal\":\"*\"")
}
