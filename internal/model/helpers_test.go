package model

import "github.com/loqalabs/loqa-vc/internal/config"

func configForTest() config.ModelsConfig {
	return config.ModelsConfig{Backend: "mock"}
}
