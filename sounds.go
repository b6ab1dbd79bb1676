package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"node.town/honk/catalog"
	"node.town/honk/sound"
)

func addSoundCommands(root *cobra.Command) {
	importCmd.Flags().String("name", "", "Sound name (defaults to the file name)")
	deleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	pseudoCmd.AddCommand(pseudoAddCmd)
	pseudoCmd.AddCommand(pseudoRmCmd)

	root.AddCommand(soundsCmd)
	root.AddCommand(importCmd)
	root.AddCommand(renameCmd)
	root.AddCommand(pseudoCmd)
	root.AddCommand(deleteCmd)
	root.AddCommand(importPseudonymsCmd)
}

var soundsCmd = &cobra.Command{
	Use:   "sounds",
	Short: "List sounds and their trigger phrases",
	Run: withBoard(func(ctx context.Context, board *sound.Board, cmd *cobra.Command, args []string) error {
		entries, err := board.Catalog().List(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No sounds found.")
			return nil
		}
		renderSoundTable(os.Stdout, board.Library(), entries)
		return nil
	}),
}

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Convert audio files and add them as sounds",
	Args:  cobra.MinimumNArgs(1),
	Run: withBoard(func(ctx context.Context, board *sound.Board, cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name != "" && len(args) > 1 {
			return errors.New("--name only works with a single file")
		}
		for _, path := range args {
			soundName := name
			if soundName == "" {
				soundName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			if err := importFile(ctx, board, soundName, path); err != nil {
				return err
			}
		}
		return nil
	}),
}

func importFile(ctx context.Context, board *sound.Board, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	created, err := board.Import(ctx, name, f)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	if created {
		fmt.Printf("Added %s\n", name)
	} else {
		fmt.Printf("Replaced audio of %s\n", name)
	}
	return nil
}

var renameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a sound",
	Args:  cobra.ExactArgs(2),
	Run: withBoard(func(ctx context.Context, board *sound.Board, cmd *cobra.Command, args []string) error {
		if err := board.Rename(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %s\n", args[0], args[1])
		return nil
	}),
}

var pseudoCmd = &cobra.Command{
	Use:   "pseudo",
	Short: "Manage trigger phrases",
}

var pseudoAddCmd = &cobra.Command{
	Use:   "add <name> <phrase>...",
	Short: "Add trigger phrases to a sound",
	Args:  cobra.MinimumNArgs(2),
	Run: withBoard(func(ctx context.Context, board *sound.Board, cmd *cobra.Command, args []string) error {
		for _, phrase := range args[1:] {
			err := board.Catalog().AddPseudonym(ctx, args[0], phrase)
			if errors.Is(err, catalog.ErrExists) {
				fmt.Printf("%s already has %q\n", args[0], phrase)
				continue
			}
			if err != nil {
				return err
			}
			fmt.Printf("Added %q to %s\n", phrase, args[0])
		}
		return nil
	}),
}

var pseudoRmCmd = &cobra.Command{
	Use:   "rm <name> <phrase>",
	Short: "Remove a trigger phrase from a sound",
	Args:  cobra.MinimumNArgs(2),
	Run: withBoard(func(ctx context.Context, board *sound.Board, cmd *cobra.Command, args []string) error {
		phrase := strings.Join(args[1:], " ")
		if err := board.Catalog().RemovePseudonym(ctx, args[0], phrase); err != nil {
			return err
		}
		fmt.Printf("Removed %q from %s\n", phrase, args[0])
		return nil
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a sound, its phrases and its audio",
	Args:  cobra.ExactArgs(1),
	Run: withBoard(func(ctx context.Context, board *sound.Board, cmd *cobra.Command, args []string) error {
		entry, err := board.Catalog().Lookup(ctx, args[0])
		if err != nil {
			return err
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Delete %s?", entry.Name)).
				Description("Phrases: " + strings.Join(entry.Pseudonyms, ", ")).
				Value(&yes).
				Run()
			if err != nil {
				return err
			}
		}
		if !yes {
			fmt.Println("Nothing deleted.")
			return nil
		}

		if err := board.Delete(ctx, entry.Name); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", entry.Name)
		return nil
	}),
}

var importPseudonymsCmd = &cobra.Command{
	Use:   "import-pseudonyms <pseudonyms.json>",
	Short: "Import trigger phrases from a legacy pseudonyms.json dictionary",
	Args:  cobra.ExactArgs(1),
	Run: withBoard(func(ctx context.Context, board *sound.Board, cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		dict, err := readPseudonyms(f)
		if err != nil {
			return err
		}
		stats, err := importPseudonyms(ctx, board.Catalog(), dict)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d sounds and %d phrases (%d sounds already known)\n",
			stats.sounds, stats.phrases, stats.known)
		return nil
	}),
}

type legacySound struct {
	SoundName  string   `json:"soundName"`
	Pseudonyms []string `json:"pseudonyms"`
}

type legacyPseudonyms struct {
	Dictionary []legacySound `json:"dictionary"`
}

func readPseudonyms(r io.Reader) ([]legacySound, error) {
	var doc legacyPseudonyms
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse pseudonyms: %w", err)
	}
	return doc.Dictionary, nil
}

type importStats struct {
	sounds, phrases, known int
}

// importPseudonyms adds every sound in dict that the catalog lacks and
// every phrase a sound lacks. Existing data is never removed.
func importPseudonyms(ctx context.Context, cat catalog.Catalog, dict []legacySound) (importStats, error) {
	var stats importStats
	for _, s := range dict {
		name := strings.TrimSpace(s.SoundName)
		err := cat.Add(ctx, name)
		switch {
		case errors.Is(err, catalog.ErrExists):
			stats.known++
		case err != nil:
			return stats, fmt.Errorf("sound %q: %w", name, err)
		default:
			stats.sounds++
		}

		for _, phrase := range s.Pseudonyms {
			if strings.TrimSpace(phrase) == "" || phrase == name {
				continue
			}
			err := cat.AddPseudonym(ctx, name, phrase)
			if errors.Is(err, catalog.ErrExists) {
				continue
			}
			if err != nil {
				return stats, fmt.Errorf("sound %q: %w", name, err)
			}
			stats.phrases++
		}
	}
	return stats, nil
}

type clipChecker interface {
	Exists(name string) bool
}

func renderSoundTable(w io.Writer, clips clipChecker, entries []catalog.SoundEntry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Name", "Audio", "Phrases"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for i, entry := range entries {
		audio := "missing"
		if clips.Exists(entry.Name) {
			audio = "ok"
		}
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			entry.Name,
			audio,
			strings.Join(entry.Pseudonyms[min(1, len(entry.Pseudonyms)):], ", "),
		})
	}

	table.Render()
}

type boardFunc func(ctx context.Context, board *sound.Board, cmd *cobra.Command, args []string) error

// withBoard opens the catalog and sound directory around a command.
func withBoard(fn boardFunc) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		cfg, logs := loadConfig()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		board, closeBoard, err := openBoard(ctx, cfg, afero.NewOsFs(), logs)
		if err != nil {
			logs.main.Fatal("open soundboard", "error", err)
		}
		defer closeBoard()

		if err := fn(ctx, board, cmd, args); err != nil {
			closeBoard()
			logs.main.Fatal(cmd.Name(), "error", err)
		}
	}
}
