package imagepublisher

import (
	"encoding/base64"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ecr"

	"github.com/stephenvia/portfolio-deployer/src/utils/awserrs"
)

const (
	fallback_tag      = "latest"
	revision_hash_len = "7"
)

// Build describes where the container image comes from.
type Build struct {
	Repository string
	ContextDir string
}

// ArtifactRef identifies a pushed (or reused) image in the registry.
type ArtifactRef struct {
	Repository string
	Tag        string
	URI        string
	Reused     bool
}

type ecrAPI interface {
	CreateRepository(*ecr.CreateRepositoryInput) (*ecr.CreateRepositoryOutput, error)
	DescribeImages(*ecr.DescribeImagesInput) (*ecr.DescribeImagesOutput, error)
	GetAuthorizationToken(*ecr.GetAuthorizationTokenInput) (*ecr.GetAuthorizationTokenOutput, error)
}

var newClient = func(region string) ecrAPI {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return ecr.New(sess, aws.NewConfig().WithRegion(region))
}

var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Publish makes sure the registry holds an image for the current source
// revision. A tag already present in the registry is reused as-is; the
// image is only built and pushed when its tag is missing. Pushes carry both
// the revision tag and a mutable latest alias.
func Publish(region string, accountID string, build Build) (ArtifactRef, error) {
	client := newClient(region)

	// Make sure the repository exists
	_, err := client.CreateRepository(&ecr.CreateRepositoryInput{
		RepositoryName: aws.String(build.Repository),
	})
	if awserrs.Classify(err, ecr.ErrCodeRepositoryAlreadyExistsException) == awserrs.Fatal {
		return ArtifactRef{}, fmt.Errorf("create repository %s: %w", build.Repository, err)
	}

	tag := revisionTag()
	registry := fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", accountID, region)
	ref := ArtifactRef{
		Repository: build.Repository,
		Tag:        tag,
		URI:        fmt.Sprintf("%s/%s:%s", registry, build.Repository, tag),
	}

	// Skip the build when this revision was already pushed
	_, err = client.DescribeImages(&ecr.DescribeImagesInput{
		RepositoryName: aws.String(build.Repository),
		ImageIds: []*ecr.ImageIdentifier{
			{ImageTag: aws.String(tag)},
		},
	})
	if err == nil {
		ref.Reused = true
		return ref, nil
	}
	if !awserrs.IsNotFound(err, ecr.ErrCodeImageNotFoundException) {
		return ArtifactRef{}, fmt.Errorf("check image tag %s: %w", tag, err)
	}

	if err := login(client, registry); err != nil {
		return ArtifactRef{}, err
	}
	if err := buildAndPush(build, registry, tag); err != nil {
		return ArtifactRef{}, err
	}
	return ref, nil
}

// revisionTag derives the image tag from the checked-out source revision,
// falling back to a constant when the tree is not a git checkout.
func revisionTag() string {
	out, err := runCommand("git", "rev-parse", "--short="+revision_hash_len, "HEAD")
	if err != nil {
		return fallback_tag
	}
	tag := strings.TrimSpace(string(out))
	if tag == "" {
		return fallback_tag
	}
	return tag
}

func login(client ecrAPI, registry string) error {
	out, err := client.GetAuthorizationToken(&ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return fmt.Errorf("get registry token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return fmt.Errorf("registry returned no authorization data")
	}
	decoded, err := base64.StdEncoding.DecodeString(aws.StringValue(out.AuthorizationData[0].AuthorizationToken))
	if err != nil {
		return fmt.Errorf("decode registry token: %w", err)
	}

	// Token decodes to user:password
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed registry token")
	}
	if out, err := runCommand("docker", "login", "--username", parts[0], "--password", parts[1], registry); err != nil {
		return fmt.Errorf("docker login: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func buildAndPush(build Build, registry string, tag string) error {
	local := fmt.Sprintf("%s:%s", build.Repository, tag)
	remote := fmt.Sprintf("%s/%s:%s", registry, build.Repository, tag)
	remoteLatest := fmt.Sprintf("%s/%s:%s", registry, build.Repository, fallback_tag)

	steps := [][]string{
		{"docker", "build", "-t", local, build.ContextDir},
		{"docker", "tag", local, remote},
		{"docker", "push", remote},
	}
	if remote != remoteLatest {
		steps = append(steps,
			[]string{"docker", "tag", local, remoteLatest},
			[]string{"docker", "push", remoteLatest},
		)
	}
	for _, step := range steps {
		if out, err := runCommand(step[0], step[1:]...); err != nil {
			return fmt.Errorf("%s: %s: %w", strings.Join(step[:2], " "), strings.TrimSpace(string(out)), err)
		}
	}
	return nil
}
