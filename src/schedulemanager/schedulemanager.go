package schedulemanager

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/scheduler"
	cron "github.com/robfig/cron/v3"

	"github.com/stephenvia/portfolio-deployer/src/utils/awserrs"
)

// State reports which branch of the upsert ran.
type State string

const (
	Created State = "created"
	Updated State = "updated"
)

// Schedule is the recurring trigger definition.
type Schedule struct {
	Name     string
	Cron     string
	Timezone string
}

// Target is everything the scheduler needs to launch the task: the cluster,
// the newest task definition revision, the invocation role and the resolved
// network placement.
type Target struct {
	ClusterArn        string
	TaskDefinitionArn string
	RoleArn           string
	SubnetID          string
	SecurityGroupID   string
}

type schedulerAPI interface {
	UpdateSchedule(*scheduler.UpdateScheduleInput) (*scheduler.UpdateScheduleOutput, error)
	CreateSchedule(*scheduler.CreateScheduleInput) (*scheduler.CreateScheduleOutput, error)
}

var newClient = func(region string) schedulerAPI {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return scheduler.New(sess, aws.NewConfig().WithRegion(region))
}

// Upsert converges the named schedule onto the target. Update runs first so
// repeated deploys move an existing schedule to the newest revision; create
// only happens when the update reports the schedule does not exist. Any
// other update failure is fatal.
func Upsert(region string, sched Schedule, target Target) (State, error) {
	if err := validateCron(sched.Cron); err != nil {
		return "", err
	}

	client := newClient(region)
	expression := fmt.Sprintf("cron(%s)", sched.Cron)
	window := &scheduler.FlexibleTimeWindow{
		Mode: aws.String(scheduler.FlexibleTimeWindowModeOff),
	}

	_, err := client.UpdateSchedule(&scheduler.UpdateScheduleInput{
		Name:                       aws.String(sched.Name),
		ScheduleExpression:         aws.String(expression),
		ScheduleExpressionTimezone: aws.String(sched.Timezone),
		FlexibleTimeWindow:         window,
		Target:                     schedulerTarget(target),
	})
	if err == nil {
		return Updated, nil
	}
	if !awserrs.IsNotFound(err, scheduler.ErrCodeResourceNotFoundException) {
		return "", fmt.Errorf("update schedule %s: %w", sched.Name, err)
	}

	_, err = client.CreateSchedule(&scheduler.CreateScheduleInput{
		Name:                       aws.String(sched.Name),
		ScheduleExpression:         aws.String(expression),
		ScheduleExpressionTimezone: aws.String(sched.Timezone),
		FlexibleTimeWindow:         window,
		Target:                     schedulerTarget(target),
	})
	if err != nil {
		return "", fmt.Errorf("create schedule %s: %w", sched.Name, err)
	}
	return Created, nil
}

func schedulerTarget(target Target) *scheduler.Target {
	return &scheduler.Target{
		Arn:     aws.String(target.ClusterArn),
		RoleArn: aws.String(target.RoleArn),
		EcsParameters: &scheduler.EcsParameters{
			TaskDefinitionArn: aws.String(target.TaskDefinitionArn),
			LaunchType:        aws.String(scheduler.LaunchTypeFargate),
			NetworkConfiguration: &scheduler.NetworkConfiguration{
				AwsvpcConfiguration: &scheduler.AwsVpcConfiguration{
					Subnets:        []*string{aws.String(target.SubnetID)},
					SecurityGroups: []*string{aws.String(target.SecurityGroupID)},
					AssignPublicIp: aws.String(scheduler.AssignPublicIpEnabled),
				},
			},
		},
	}
}

// validateCron rejects a malformed expression locally, before any provider
// call. The provider grammar is six fields with a trailing year; the year
// is checked here only for presence, the rest with the cron parser. Forms
// the parser cannot model (L, W, #, and anything resembling them) are
// passed through, the provider stays the authority on those.
func validateCron(expression string) error {
	fields := strings.Fields(expression)
	if len(fields) != 6 {
		return fmt.Errorf("cron expression %q must have 6 fields", expression)
	}
	for _, field := range fields[:5] {
		if strings.ContainsAny(field, "LW#") {
			return nil
		}
	}

	fields[4] = shiftDow(fields[4])
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(strings.Join(fields[:5], " ")); err != nil {
		return fmt.Errorf("cron expression %q: %w", expression, err)
	}
	return nil
}

var dowNumber = regexp.MustCompile(`\d+`)

// shiftDow maps the provider's 1-7 day-of-week numbering onto the parser's
// 0-6. Step values after a slash keep the provider's meaning and are left
// alone.
func shiftDow(field string) string {
	parts := strings.Split(field, ",")
	for i, part := range parts {
		segments := strings.SplitN(part, "/", 2)
		segments[0] = dowNumber.ReplaceAllStringFunc(segments[0], func(s string) string {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > 7 {
				return s
			}
			return strconv.Itoa(n - 1)
		})
		parts[i] = strings.Join(segments, "/")
	}
	return strings.Join(parts, ",")
}
