// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
			Value: true,
		},
	}
}

func withJSON(flags ...cli.Flag) []cli.Flag {
	return append(flags, jsonFlags()...)
}

// setupCommand creates the config file and migrates the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the configuration file and run database migrations",
		Action: r.Setup,
		Commands: []*cli.Command{
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent database migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// providersCommand lists providers and their status.
func providersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "providers",
		Usage:  "List configured providers, their features and last sync",
		Flags:  jsonFlags(),
		Action: r.Providers,
	}
}

func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync the library of every enabled provider into the local catalog",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Keep running and resync filesystem providers when files change",
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "Quiet period after a change before resyncing",
				Value: defaultDebounce,
			},
		},
		Action: r.Sync,
	}
}

func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search every provider",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "query"},
		},
		Flags: withJSON(
			&cli.StringSliceFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Media types to search (artist, album, track, playlist, radio)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum results per provider",
				Value:   10,
			},
		),
		Action: r.Search,
	}
}

func itemsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "items",
		Usage: "List catalog items",
		Flags: withJSON(
			&cli.StringFlag{Name: "provider", Usage: "Only items of this provider instance"},
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Only items of this media type"},
			&cli.BoolFlag{Name: "library", Usage: "Only items in the library"},
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "Filter by name"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50},
			&cli.IntFlag{Name: "offset"},
		),
		Action: r.Items,
	}
}

func countCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "count",
		Usage:  "Count catalog items per media type",
		Flags:  withJSON(&cli.BoolFlag{Name: "library", Usage: "Only count items in the library"}),
		Action: r.Count,
	}
}

func itemCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "item",
		Usage: "Show one item by provider://type/id reference",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "uri"},
		},
		Flags:  withJSON(&cli.BoolFlag{Name: "tracks", Usage: "Also list the tracks of albums, playlists and artists"}),
		Action: r.Item,
	}
}

func libraryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "library",
		Usage: "Edit provider libraries",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add an item to its provider library",
				Arguments: []cli.Argument{&cli.StringArg{Name: "uri"}},
				Action:    r.LibraryAdd,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove an item from its provider library",
				Arguments: []cli.Argument{&cli.StringArg{Name: "uri"}},
				Action:    r.LibraryRemove,
			},
		},
	}
}

func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playlist",
		Usage: "Playlist operations",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add tracks to a playlist: playlist add PLAYLIST_URI TRACK_URI...",
				ArgsUsage: "PLAYLIST_URI TRACK_URI...",
				Action:    r.PlaylistAdd,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove tracks from a playlist",
				ArgsUsage: "PLAYLIST_URI TRACK_URI...",
				Action:    r.PlaylistRemove,
			},
			{
				Name:      "export",
				Usage:     "Export playlists of one provider to disk",
				ArgsUsage: "PLAYLIST_URI...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format (json, csv, markdown, txt)",
						Value:   "json",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent writers",
						Value: 5,
					},
				},
				Action: r.PlaylistExport,
			},
			{
				Name:      "diff",
				Usage:     "Compare two playlists",
				ArgsUsage: "SOURCE_URI DEST_URI",
				Flags:     jsonFlags(),
				Action:    r.PlaylistDiff,
			},
			{
				Name:      "transfer",
				Usage:     "Match the tracks of a playlist on another provider and append them",
				ArgsUsage: "SOURCE_URI DEST_URI",
				Flags:     jsonFlags(),
				Action:    r.PlaylistTransfer,
			},
		},
	}
}

func streamCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Resolve the stream of an item",
		Arguments: []cli.Argument{&cli.StringArg{Name: "uri"}},
		Flags:     jsonFlags(),
		Action:    r.Stream,
	}
}

func playCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "play",
		Usage:     "Queue items on the console player and play them through",
		ArgsUsage: "URI...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "option",
				Usage: "Queue option (play_now, play_next, append, insert)",
				Value: "play_now",
			},
			&cli.BoolFlag{Name: "shuffle", Usage: "Shuffle the queue"},
			&cli.StringFlag{Name: "repeat", Usage: "Repeat mode (none, one, all)"},
			&cli.IntFlag{Name: "crossfade", Usage: "Crossfade duration in seconds", Value: -1},
			&cli.StringFlag{Name: "crossfade-mode", Usage: "Crossfade mode (disabled, strict, smart, always)"},
			&cli.IntFlag{Name: "volume", Usage: "Volume level 0-100", Value: -1},
			&cli.BoolFlag{Name: "browser", Usage: "Open stream URLs in the browser"},
			&cli.BoolFlag{Name: "interactive", Aliases: []string{"i"}, Usage: "Read player commands (next, pause, volume 30, quit) from stdin"},
			&cli.DurationFlag{Name: "interval", Usage: "Status refresh interval", Value: defaultStatusInterval},
		},
		Action: r.Play,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recently streamed items",
		Flags: withJSON(
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
		),
		Action: r.History,
	}
}

// authCommand handles provider authentication.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate providers",
		Commands: []*cli.Command{
			{
				Name:  "spotify",
				Usage: "Authorize Spotify through the OAuth2 browser flow",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "provider",
						Usage: "Spotify provider instance id",
						Value: "spotify",
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening it",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the callback",
						Value: defaultAuthTimeout,
					},
				},
				Action: r.AuthSpotify,
			},
			{
				Name:    "ytmusic",
				Aliases: []string{"yt", "youtube"},
				Usage:   "Import YouTube Music browser headers from a cURL command",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "curl",
						Usage: "cURL command from browser DevTools (Copy as cURL)",
					},
					&cli.StringFlag{
						Name:  "curl-file",
						Usage: "Path to .sh file containing cURL command",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output path for browser.json (default: the provider password or ~/.jukebox/browser.json)",
					},
					&cli.StringFlag{
						Name:  "provider",
						Usage: "YouTube Music provider instance id",
						Value: "ytmusic",
					},
				},
				Action: r.AuthYTMusic,
			},
		},
	}
}
