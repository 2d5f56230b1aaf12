package bucketstore

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/stephenvia/portfolio-deployer/src/utils/awserrs"
)

type s3API interface {
	CreateBucket(*s3.CreateBucketInput) (*s3.CreateBucketOutput, error)
	PutBucketPolicy(*s3.PutBucketPolicyInput) (*s3.PutBucketPolicyOutput, error)
}

var newClient = func(region string) s3API {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return s3.New(sess, aws.NewConfig().WithRegion(region))
}

// Ensure creates the reports bucket, treating an already existing bucket we
// own as success. A name held by another account is unrecoverable, the
// namespace is global.
func Ensure(region string, bucket string) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}

	// us-east-1 rejects an explicit location constraint
	if region != "us-east-1" {
		input.CreateBucketConfiguration = &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String(region),
		}
	}
	_, err := newClient(region).CreateBucket(input)
	if awserrs.IsCode(err, s3.ErrCodeBucketAlreadyExists) {
		return fmt.Errorf("bucket name %s is already taken by another account: %w", bucket, err)
	}
	if awserrs.Classify(err, s3.ErrCodeBucketAlreadyOwnedByYou) == awserrs.Fatal {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// AttachPolicy grants the execution role object read/write under the
// bucket. Re-putting the same policy document is a no-op in effect.
func AttachPolicy(region string, bucket string, roleArn string) error {
	document, err := policyDocument(bucket, roleArn)
	if err != nil {
		return err
	}
	_, err = newClient(region).PutBucketPolicy(&s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(string(document)),
	})
	if err != nil {
		return fmt.Errorf("put bucket policy on %s: %w", bucket, err)
	}
	return nil
}

func policyDocument(bucket string, roleArn string) ([]byte, error) {
	bucketArn := fmt.Sprintf("arn:aws:s3:::%s", bucket)
	return json.Marshal(map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []interface{}{
			map[string]interface{}{
				"Sid":    "AllowTaskRoleObjectAccess",
				"Effect": "Allow",
				"Principal": map[string]interface{}{
					"AWS": roleArn,
				},
				"Action": []string{
					"s3:GetObject",
					"s3:PutObject",
				},
				"Resource": bucketArn + "/*",
			},
			map[string]interface{}{
				"Sid":    "AllowTaskRoleList",
				"Effect": "Allow",
				"Principal": map[string]interface{}{
					"AWS": roleArn,
				},
				"Action":   []string{"s3:ListBucket"},
				"Resource": bucketArn,
			},
		},
	})
}
