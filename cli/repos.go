package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smallnest/crewrelay/repos"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories from the manifest",
	RunE:  runRepos,
}

func runRepos(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	registry, err := repos.Load(cfg.Repos.ManifestPath)
	if err != nil {
		return err
	}
	defer registry.Close()

	names := registry.Names()
	if len(names) == 0 {
		fmt.Printf("no repos registered in %s\n", cfg.Repos.ManifestPath)
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
