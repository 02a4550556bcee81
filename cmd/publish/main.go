package main

import (
	"flag"
	"strings"

	"fleetsync/pkg/config"
	"fleetsync/pkg/logger"
	"fleetsync/pkg/publisher"
	"fleetsync/pkg/task"
)

func main() {
	var (
		configPath  = flag.String("config", "/etc/fleetsync/config.toml", "path to config file")
		operation   = flag.String("op", "", "operation to queue: deploy, collect or purge")
		hosts       = flag.String("hosts", "", "comma-separated hostnames (default: all enabled hosts)")
		region      = flag.String("region", "", "only hosts in this region")
		sets        = flag.String("sets", "", "comma-separated deploy sets (default: enabled sets)")
		collections = flag.String("collection", "", "comma-separated log collections (default: all)")
		requestedBy = flag.String("by", "", "who asked for the operation")
	)
	flag.Parse()

	if *operation == "" {
		logger.Fatal("operation is required", nil)
	}

	config, err := config.LoadFromFile(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", map[string]any{
			"config_path": *configPath,
			"error":       err.Error(),
		})
	}

	publisher, err := publisher.NewPublisher(config)
	if err != nil {
		logger.Fatal("failed to create publisher", map[string]any{
			"error": err.Error(),
		})
	}
	defer publisher.Close()

	info, err := publisher.PublishOperation(task.OperationPayload{
		Operation:   strings.ToLower(*operation),
		Hosts:       splitList(*hosts),
		Region:      *region,
		Sets:        splitList(*sets),
		Collections: splitList(*collections),
		RequestedBy: *requestedBy,
	})
	if err != nil {
		logger.Fatal("failed to publish task", map[string]any{
			"error": err.Error(),
		})
	}

	logger.Info("task published successfully", map[string]any{
		"task_id":   info.ID,
		"operation": *operation,
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
