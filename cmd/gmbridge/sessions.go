// Subcommands for inspecting the session store that a gmbridged host
// populates when frame recording is enabled.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/gmbridge/gmbridge/internal/core"
	"github.com/gmbridge/gmbridge/internal/core/debug"
	"github.com/gmbridge/gmbridge/internal/protocol"
	"github.com/gmbridge/gmbridge/internal/sessions"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded bridge sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the recorded sessions",
	Run:   SessionsListCommand,
}

var sessionsSummarizeCmd = &cobra.Command{
	Use:   "summarize [session id]",
	Short: "Prints one line per frame of a session",
	Args:  cobra.ExactArgs(1),
	Run:   SessionsSummarizeCommand,
}

var sessionsCompactCmd = &cobra.Command{
	Use:   "compact [session id]",
	Short: "Prints a session's frames with full hexdumps (useful for tools like diff)",
	Args:  cobra.ExactArgs(1),
	Run:   SessionsCompactCommand,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [session id]",
	Short: "Deletes a session and its frames",
	Args:  cobra.ExactArgs(1),
	Run:   SessionsDeleteCommand,
}

func initDB() *gorm.DB {
	// Change to the same directory as the config file so that any relative
	// paths in the config file will resolve.
	if ConfigFlag != "" {
		if err := os.Chdir(ConfigFlag); err != nil {
			fmt.Println("error changing to config directory:", err)
			os.Exit(1)
		}
	}

	configPath := ConfigFlag
	if configPath == "" {
		configPath = "./"
	}
	cfg := core.LoadConfig(configPath)

	db, err := sessions.Open(cfg, false)
	if err != nil {
		fmt.Println("error opening session store:", err)
		os.Exit(1)
	}
	return db
}

func parseSessionID(arg string) uint64 {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		fmt.Println("invalid session id:", arg)
		os.Exit(1)
	}
	return id
}

func mustFindSession(db *gorm.DB, id uint64) *sessions.Session {
	session, err := sessions.FindSession(db, id)
	if err != nil {
		fmt.Println("error finding session:", err)
		os.Exit(1)
	}
	if session == nil {
		fmt.Printf("no session with id %d\n", id)
		os.Exit(1)
	}
	return session
}

func mustSessionFrames(db *gorm.DB, sessionID uint64) []sessions.Frame {
	frames, err := sessions.SessionFrames(db, sessionID)
	if err != nil {
		fmt.Println("error loading frames:", err)
		os.Exit(1)
	}
	return frames
}

func SessionsListCommand(cmd *cobra.Command, args []string) {
	db := initDB()

	list, err := sessions.ListSessions(db)
	if err != nil {
		fmt.Println("error listing sessions:", err)
		return
	}
	if len(list) == 0 {
		fmt.Println("no recorded sessions")
		return
	}

	for _, session := range list {
		count, err := sessions.CountFrames(db, session.ID)
		if err != nil {
			fmt.Println("error counting frames:", err)
			return
		}
		fmt.Printf("%4d  %-28s %-5s %s  %d frames\n",
			session.ID,
			session.Name,
			session.Transport,
			session.StartedAt.Format("2006-01-02 15:04:05"),
			count,
		)
	}
}

func SessionsSummarizeCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	session := mustFindSession(db, parseSessionID(args[0]))

	// Timestamps are deliberately left out so two summaries can be diffed.
	for _, frame := range mustSessionFrames(db, session.ID) {
		fmt.Printf("%-8s  %-14s %5d\n", frame.Direction, protocol.Name(frame.Command), frame.Size)
	}
}

func SessionsCompactCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	session := mustFindSession(db, parseSessionID(args[0]))

	for _, frame := range mustSessionFrames(db, session.ID) {
		fmt.Printf("%s %s (%d bytes)\n", frame.Direction, protocol.Name(frame.Command), frame.Size)
		if frame.Size > 0 {
			fmt.Print(debug.DumpFrame(frame.Payload))
		}
		fmt.Println()
	}
}

func SessionsDeleteCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	session := mustFindSession(db, parseSessionID(args[0]))

	if err := sessions.DeleteSession(db, session.ID); err != nil {
		fmt.Println("error deleting session:", err)
		return
	}
	fmt.Printf("deleted session %d (%s)\n", session.ID, session.Name)
}
