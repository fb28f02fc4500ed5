package app

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type envVars struct {
	Environment string `split_words:"true"`

	// DataDir enables the persistent index provider; empty keeps
	// every index in memory.
	DataDir string `split_words:"true"`

	PopulationWorkers int   `split_words:"true" default:"4"`
	SampleLimit       int64 `split_words:"true" default:"1000000"`
}

func mustLoadEnv(configPath string) envVars {
	var env envVars

	if configPath != "" {
		if err := godotenv.Load(configPath); err != nil {
			panic(err)
		}
	} else {
		// a missing default .env is fine, the defaults below apply
		_ = godotenv.Load()
	}

	envconfig.MustProcess("GRAPHKERNEL", &env)

	if env.Environment != "" && env.Environment != EnvDev && env.Environment != EnvProd {
		panic("invalid environment")
	} else if env.Environment == "" {
		env.Environment = EnvDev
	}

	if env.PopulationWorkers < 1 {
		panic("population workers must be at least 1")
	}

	return env
}
