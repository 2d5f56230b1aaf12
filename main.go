package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/stephenvia/portfolio-deployer/src/imagepublisher"
	"github.com/stephenvia/portfolio-deployer/src/orchestrator"
	"github.com/stephenvia/portfolio-deployer/src/schedulemanager"
	"github.com/stephenvia/portfolio-deployer/src/taskregistrar"
	"github.com/stephenvia/portfolio-deployer/src/utils/sendsns"
)

const (
	default_region         = "us-west-2"
	default_repository     = "portfolio-tracker"
	default_bucket         = "portfolio-tracker-reports"
	default_role_name      = "PortfolioTaskRole"
	default_policy_name    = "PortfolioTaskPolicy"
	default_log_group      = "/ecs/portfolio-tracker"
	default_family         = "portfolio-tracker"
	default_cluster        = "portfolio-tracker"
	default_schedule_name  = "portfolio-tracker-daily"
	default_cron           = "0 14 * * ? *"
	default_timezone       = "America/Los_Angeles"
	default_context_dir    = "."
	default_retention_days = 30
)

type config struct {
	Build    imagepublisher.Build
	Task     taskregistrar.TaskSettings
	Schedule schedulemanager.Schedule
	Bucket   string
	Role     string
	Policy   string
}

func main() {

	// Local runs may keep credentials in a .env file
	godotenv.Load()

	region := flag.String("region", default_region, "Deployment region")
	account := flag.String("account", "", "Account id (resolved from credentials when empty)")
	email := flag.String("email", "", "Notification email for the batch job")
	configFile := flag.String("config", "", "Optional config.toml overriding resource names")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "missing required -email")
		flag.Usage()
		os.Exit(1)
	}

	// Load configuration overrides
	var conf config
	if *configFile != "" {
		if _, err := toml.DecodeFile(*configFile, &conf); err != nil {
			log.Fatalln(err)
		}
	}
	applyDefaults(&conf)

	cfg := orchestrator.Config{
		Target: orchestrator.Target{
			Region:    *region,
			AccountID: *account,
			Email:     *email,
		},
		Bucket:     conf.Bucket,
		RoleName:   conf.Role,
		PolicyName: conf.Policy,
		Build:      conf.Build,
		Task:       conf.Task,
		Schedule:   conf.Schedule,
		Retention:  default_retention_days,
	}

	dep, err := orchestrator.Run(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deploy failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(dep.Summary())

	// Send out alert
	if err := sendsns.SendSNS("Portfolio tracker deployed", dep.Summary()); err != nil {
		log.Fatalln(err)
	}
}

func applyDefaults(conf *config) {
	if conf.Build.Repository == "" {
		conf.Build.Repository = default_repository
	}
	if conf.Build.ContextDir == "" {
		conf.Build.ContextDir = default_context_dir
	}
	if conf.Bucket == "" {
		conf.Bucket = default_bucket
	}
	if conf.Role == "" {
		conf.Role = default_role_name
	}
	if conf.Policy == "" {
		conf.Policy = default_policy_name
	}
	if conf.Task.Family == "" {
		conf.Task.Family = default_family
	}
	if conf.Task.Cluster == "" {
		conf.Task.Cluster = default_cluster
	}
	if conf.Task.LogGroup == "" {
		conf.Task.LogGroup = default_log_group
	}
	if conf.Schedule.Name == "" {
		conf.Schedule.Name = default_schedule_name
	}
	if conf.Schedule.Cron == "" {
		conf.Schedule.Cron = default_cron
	}
	if conf.Schedule.Timezone == "" {
		conf.Schedule.Timezone = default_timezone
	}
}
