package orchestrator

import (
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sts"

	"github.com/stephenvia/portfolio-deployer/src/bucketstore"
	"github.com/stephenvia/portfolio-deployer/src/imagepublisher"
	"github.com/stephenvia/portfolio-deployer/src/netresolver"
	"github.com/stephenvia/portfolio-deployer/src/prober"
	"github.com/stephenvia/portfolio-deployer/src/rolebuilder"
	"github.com/stephenvia/portfolio-deployer/src/schedulemanager"
	"github.com/stephenvia/portfolio-deployer/src/taskregistrar"
)

// State is the orchestrator's position in the provisioning sequence.
type State string

const (
	StateInit              State = "INIT"
	StateArtifactPublished State = "ARTIFACT_PUBLISHED"
	StateRoleReady         State = "ROLE_READY"
	StateNetworkResolved   State = "NETWORK_RESOLVED"
	StateLogGroupReady     State = "LOG_GROUP_READY"
	StateJobRegistered     State = "JOB_REGISTERED"
	StateScheduleReady     State = "SCHEDULE_READY"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Target is the deployment destination, immutable for a run.
type Target struct {
	Region    string
	AccountID string
	Email     string
}

// Config is the full, explicit configuration threaded through every step.
type Config struct {
	Target     Target
	Bucket     string
	RoleName   string
	PolicyName string
	Build      imagepublisher.Build
	Task       taskregistrar.TaskSettings
	Schedule   schedulemanager.Schedule
	Retention  int64
}

// Deployment accumulates identifiers discovered or created along the run.
type Deployment struct {
	Config   Config
	State    State
	Image    imagepublisher.ArtifactRef
	Role     rolebuilder.RoleRef
	Network  netresolver.NetworkContext
	Revision int64
	TaskArn  string
	Schedule schedulemanager.State
}

type step struct {
	name string
	next State
	run  func(*Deployment) error
}

var (
	publishImage   = stepPublishImage
	ensureRole     = stepEnsureRole
	resolveNetwork = stepResolveNetwork
	ensureLogGroup = stepEnsureLogGroup
	registerTask   = stepRegisterTask
	upsertSchedule = stepUpsertSchedule

	resolveAccount = stsAccountID
	preflight      = probeExisting
)

// Run drives every provisioning step in dependency order, stopping at the
// first fatal error. All steps are safe to re-run; a failed run is simply
// re-invoked from the beginning.
func Run(cfg Config) (*Deployment, error) {
	dep := &Deployment{Config: cfg, State: StateInit}

	if dep.Config.Target.AccountID == "" {
		accountID, err := resolveAccount(cfg.Target.Region)
		if err != nil {
			dep.State = StateFailed
			return dep, fmt.Errorf("resolve account: %w", err)
		}
		dep.Config.Target.AccountID = accountID
	}

	if err := preflight(dep); err != nil {
		dep.State = StateFailed
		return dep, fmt.Errorf("preflight: %w", err)
	}

	steps := []step{
		{"publish-image", StateArtifactPublished, publishImage},
		{"ensure-role", StateRoleReady, ensureRole},
		{"resolve-network", StateNetworkResolved, resolveNetwork},
		{"ensure-log-group", StateLogGroupReady, ensureLogGroup},
		{"register-task", StateJobRegistered, registerTask},
		{"upsert-schedule", StateScheduleReady, upsertSchedule},
	}
	for _, s := range steps {
		log.Printf("Step %s", s.name)
		if err := s.run(dep); err != nil {
			dep.State = StateFailed
			return dep, fmt.Errorf("%s: %w", s.name, err)
		}
		dep.State = s.next
	}
	dep.State = StateDone
	return dep, nil
}

// probeExisting reports what is already in place before anything mutates.
// Probe failures other than not-found are fatal.
func probeExisting(dep *Deployment) error {
	cfg := dep.Config
	checks := []struct {
		kind prober.Kind
		id   string
	}{
		{prober.KindRepository, cfg.Build.Repository},
		{prober.KindBucket, cfg.Bucket},
		{prober.KindRole, cfg.RoleName},
		{prober.KindLogGroup, cfg.Task.LogGroup},
		{prober.KindSchedule, cfg.Schedule.Name},
	}
	for _, check := range checks {
		presence, err := prober.Exists(cfg.Target.Region, check.kind, check.id)
		if err != nil {
			return fmt.Errorf("probe %s %s: %w", check.kind, check.id, err)
		}
		log.Printf("Existing %s %s: %v", check.kind, check.id, presence.Found)
	}
	return nil
}

func stepPublishImage(dep *Deployment) error {
	ref, err := imagepublisher.Publish(dep.Config.Target.Region, dep.Config.Target.AccountID, dep.Config.Build)
	if err != nil {
		return err
	}
	if ref.Reused {
		log.Printf("Image tag %s already pushed, build skipped", ref.Tag)
	}
	dep.Image = ref
	return nil
}

func stepEnsureRole(dep *Deployment) error {
	cfg := dep.Config
	role, err := rolebuilder.EnsureRole(cfg.Target.Region, cfg.RoleName)
	if err != nil {
		return err
	}
	document, err := rolebuilder.PermissionPolicy(rolebuilder.PolicyInputs{
		Region:    cfg.Target.Region,
		AccountID: cfg.Target.AccountID,
		Bucket:    cfg.Bucket,
		LogGroup:  cfg.Task.LogGroup,
		Family:    cfg.Task.Family,
		RoleName:  cfg.RoleName,
	})
	if err != nil {
		return err
	}
	if err := rolebuilder.EnsurePolicy(cfg.Target.Region, role.Name, cfg.PolicyName, document); err != nil {
		return err
	}
	if err := bucketstore.Ensure(cfg.Target.Region, cfg.Bucket); err != nil {
		return err
	}
	if err := bucketstore.AttachPolicy(cfg.Target.Region, cfg.Bucket, role.Arn); err != nil {
		return err
	}
	dep.Role = role
	return nil
}

func stepResolveNetwork(dep *Deployment) error {
	network, err := netresolver.Resolve(dep.Config.Target.Region)
	if err != nil {
		return err
	}
	dep.Network = network
	return nil
}

func stepEnsureLogGroup(dep *Deployment) error {
	cfg := dep.Config
	if err := taskregistrar.EnsureLogGroup(cfg.Target.Region, cfg.Task.LogGroup, cfg.Retention); err != nil {
		return err
	}
	return taskregistrar.EnsureCluster(cfg.Target.Region, cfg.Task.Cluster)
}

func stepRegisterTask(dep *Deployment) error {
	cfg := dep.Config
	env := map[string]string{
		"STORAGE_BUCKET":  cfg.Bucket,
		"SENDER_EMAIL":    cfg.Target.Email,
		"RECIPIENT_EMAIL": cfg.Target.Email,
		"REGION":          cfg.Target.Region,
	}
	revision, _, err := taskregistrar.Register(cfg.Target.Region, cfg.Task, dep.Image.URI, env, dep.Role.Arn)
	if err != nil {
		return err
	}
	dep.Revision = revision
	return nil
}

func stepUpsertSchedule(dep *Deployment) error {
	cfg := dep.Config

	// The registrar produced a fresh revision; resolve the newest one
	// explicitly rather than trusting in-process state.
	revision, taskArn, err := prober.LatestRevision(cfg.Target.Region, cfg.Task.Family)
	if err != nil {
		return fmt.Errorf("resolve latest revision: %w", err)
	}
	dep.Revision = revision
	dep.TaskArn = taskArn

	clusterArn := fmt.Sprintf("arn:aws:ecs:%s:%s:cluster/%s",
		cfg.Target.Region, cfg.Target.AccountID, cfg.Task.Cluster)
	state, err := schedulemanager.Upsert(cfg.Target.Region, cfg.Schedule, schedulemanager.Target{
		ClusterArn:        clusterArn,
		TaskDefinitionArn: taskArn,
		RoleArn:           dep.Role.Arn,
		SubnetID:          dep.Network.SubnetID,
		SecurityGroupID:   dep.Network.SecurityGroupID,
	})
	if err != nil {
		return err
	}
	dep.Schedule = state
	return nil
}

var stsAccountID = func(region string) (string, error) {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	out, err := sts.New(sess, aws.NewConfig().WithRegion(region)).GetCallerIdentity(&sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.Account), nil
}

// Summary is the human-readable end-of-run report.
func (dep *Deployment) Summary() string {
	if dep.State != StateDone {
		return fmt.Sprintf("Deployment state: %s", dep.State)
	}
	return fmt.Sprintf(
		"Deployment state: %s\nImage: %s (reused: %v)\nRole: %s\nNetwork: vpc=%s subnet=%s sg=%s\nTask revision: %d\nSchedule %s: %s",
		dep.State, dep.Image.URI, dep.Image.Reused, dep.Role.Arn,
		dep.Network.VpcID, dep.Network.SubnetID, dep.Network.SecurityGroupID,
		dep.Revision, dep.Config.Schedule.Name, dep.Schedule,
	)
}
