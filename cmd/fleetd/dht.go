package main

import (
	"fmt"
	"os"

	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/spf13/cobra"
)

var dhtCmd = &cobra.Command{
	Use:   "dht",
	Short: "Read and write the distributed key-value store",
}

func init() {
	dhtCmd.AddCommand(dhtPutCmd)
	dhtCmd.AddCommand(dhtGetCmd)
	dhtCmd.AddCommand(dhtDeleteCmd)

	dhtPutCmd.Flags().Int("replicas", 3, "Replica count recorded on the entry (not enforced; every peer holds a full copy)")
	dhtPutCmd.Flags().Duration("ttl", 0, "Entry time-to-live (0 = never expires)")
	dhtPutCmd.Flags().String("file", "", "Read the value from this file instead of an argument")
}

var dhtPutCmd = &cobra.Command{
	Use:   "put KEY [VALUE]",
	Short: "Write a named key to the DHT",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		replicas, _ := cmd.Flags().GetInt("replicas")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		filePath, _ := cmd.Flags().GetString("file")

		var value []byte
		switch {
		case filePath != "":
			v, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			value = v
		case len(args) == 2:
			value = []byte(args[1])
		default:
			return fmt.Errorf("dht put: provide VALUE or --file")
		}

		path := fmt.Sprintf("/dht/%s?replicas=%d", args[0], replicas)
		if ttl > 0 {
			path += "&ttl=" + ttl.String()
		}

		c := clientFor(apiAddr(cmd))
		var entry types.DHTEntry
		if err := c.put(path, value, &entry); err != nil {
			return err
		}
		fmt.Printf("✓ DHT entry written: %s (hash %s)\n", entry.Key, entry.ContentHash)
		return nil
	},
}

var dhtGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Read a key from the DHT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(apiAddr(cmd))
		var entry types.DHTEntry
		if err := c.get("/dht/"+args[0], &entry); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(entry.Value))
		return nil
	},
}

var dhtDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Tombstone a key in the DHT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(apiAddr(cmd))
		if err := c.delete("/dht/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ DHT entry deleted: %s\n", args[0])
		return nil
	},
}
