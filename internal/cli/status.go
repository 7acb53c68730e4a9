package cli

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/dwizi/media-relay/internal/adminclient"
	"github.com/dwizi/media-relay/internal/config"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sessions, cache stats and component health of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := adminclient.New(config.FromEnv())
			if err != nil {
				return err
			}
			info, err := client.Info(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("environment: %s\n", info.Environment)
			cmd.Printf("active jobs: %d\n", info.ActiveJobs)
			for _, flow := range sortedKeys(info.Sessions) {
				cmd.Printf("sessions %-10s %d\n", flow, info.Sessions[flow])
			}
			for _, connector := range sortedKeys(info.Caches) {
				stats := info.Caches[connector]
				cmd.Printf("cache %-10s backend=%s hits=%d misses=%d puts=%d errors=%d\n",
					connector, stats.Backend, stats.Hits, stats.Misses, stats.Puts, stats.ResolverErrors+stats.StorageErrors)
			}
			for _, job := range info.Scheduler {
				cmd.Printf("job %-16s runs=%d failures=%d %s\n", job.Name, job.Runs, job.Failures, job.LastError)
			}

			snapshot, err := client.Heartbeat(cmd.Context())
			if err != nil {
				cmd.Printf("heartbeat: %v\n", err)
				return nil
			}
			cmd.Printf("overall: %s\n", snapshot.Overall)
			for _, component := range snapshot.Components {
				cmd.Printf("component %-22s %s %s\n", component.Name, component.State, component.Error)
			}
			return nil
		},
	}
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
