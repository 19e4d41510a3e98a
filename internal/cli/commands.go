// Package cli implements the operator console: region and session tables,
// effect inspection, kicks and shutdown.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/events"
	"github.com/energizer-project/realmcore/internal/network"
	"github.com/energizer-project/realmcore/internal/region"
)

// Regions is the region runtime as seen by the console.
type Regions interface {
	Snapshots() []*region.Snapshot
	Effects(regionID uint16, actorID uint32) (*region.EffectList, error)
	Spawn(regionID uint16, s region.Spawn) (uint32, error)
	Mount(regionID uint16, riderID, mountID uint32) error
}

// Sessions lists and kicks game sessions.
type Sessions interface {
	Infos() []network.SessionInfo
	Kick(token uint16) bool
}

// LagSource reports per-region long tick statistics.
type LagSource interface {
	AllRegionData() map[uint16]*region.RegionLagData
}

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	regions  Regions
	sessions Sessions
	lag      LagSource

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(eventBus *events.EventBus, regions Regions, sessions Sessions, lag LagSource, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		eventBus: eventBus,
		regions:  regions,
		sessions: sessions,
		lag:      lag,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is done, the input ends or quit is
// entered.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nrealmcore console ready. Type 'help' for available commands.")

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("CLI input failed")
		}
	}()

	for {
		fmt.Fprint(c.out, "realm> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

// execute runs one command and reports whether the console should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions":
		c.printSessions()
	case "effects":
		return false, c.cmdEffects(args)
	case "spawn":
		return false, c.cmdSpawn(args)
	case "mount":
		return false, c.cmdMount(args)
	case "kick":
		return false, c.cmdKick(args)
	case "lag":
		c.printLag()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down realmcore...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status                      Show every region
  sessions                    List connected sessions
  effects <region> <actor>    List effects on an actor
  spawn <region> <name> <x> <y> [z]
                              Place a non-player actor
  mount <region> <rider> <mount>
                              Put a rider on a mount, 0 dismounts
  kick <token>                Disconnect a session
  lag                         Show long tick statistics
  quit                        Shut down realmcore
  help                        Show this help message`)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	tw := c.newTable("Region", "Name", "Tick", "Players", "Actors", "Effects", "Pending", "LOS", "Last tick", "Max tick", "Long")
	for _, s := range c.regions.Snapshots() {
		tw.Append([]string{
			strconv.Itoa(int(s.RegionID)),
			s.Name,
			strconv.FormatUint(s.Tick, 10),
			strconv.Itoa(s.Players),
			strconv.Itoa(s.Actors),
			strconv.Itoa(s.Effects),
			strconv.Itoa(s.PendingActions),
			strconv.Itoa(s.PendingLOS),
			s.LastTick.Round(time.Microsecond).String(),
			s.MaxTick.Round(time.Microsecond).String(),
			strconv.Itoa(s.LongTicks),
		})
	}
	tw.Render()
}

func (c *CLI) printSessions() {
	infos := c.sessions.Infos()
	if len(infos) == 0 {
		fmt.Fprintln(c.out, "No sessions connected")
		return
	}
	tw := c.newTable("Token", "Actor", "Region", "Remote", "Connected", "Idle", "Queued", "Dropped")
	for _, s := range infos {
		tw.Append([]string{
			strconv.Itoa(int(s.Token)),
			strconv.FormatUint(uint64(s.ActorID), 10),
			strconv.Itoa(int(s.RegionID)),
			s.RemoteAddr,
			s.ConnectedAt.Format(time.TimeOnly),
			time.Since(s.LastActivity).Round(time.Second).String(),
			strconv.Itoa(s.Queued),
			strconv.FormatUint(s.Dropped, 10),
		})
	}
	tw.Render()
}

func (c *CLI) cmdEffects(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: effects <region> <actor>")
	}
	regionID, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid region: %s", args[0])
	}
	actorID, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid actor: %s", args[1])
	}

	list, err := c.regions.Effects(uint16(regionID), uint32(actorID))
	if err != nil {
		return err
	}
	if !list.Found {
		return fmt.Errorf("actor %d not found in region %d", actorID, regionID)
	}
	if len(list.Effects) == 0 {
		fmt.Fprintf(c.out, "Actor %d has no effects\n", actorID)
		return nil
	}

	tw := c.newTable("ID", "Spell", "Caster", "State", "Pulsing", "Expires", "Magnitude")
	for _, e := range list.Effects {
		tw.Append([]string{
			strconv.FormatUint(e.ID, 10),
			fmt.Sprintf("%s (%d)", e.Spell, e.SpellID),
			strconv.FormatUint(uint64(e.CasterID), 10),
			e.State,
			strconv.FormatBool(e.Pulsing),
			strconv.FormatUint(e.ExpiresAt, 10),
			strconv.Itoa(e.Magnitude),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdSpawn(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: spawn <region> <name> <x> <y> [z]")
	}
	regionID, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid region: %s", args[0])
	}
	coords := make([]int32, 3)
	for i, a := range args[2:] {
		if i == len(coords) {
			break
		}
		v, err := strconv.ParseInt(a, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid coordinate: %s", a)
		}
		coords[i] = int32(v)
	}

	id, err := c.regions.Spawn(uint16(regionID), region.Spawn{
		Name: args[1],
		X:    coords[0],
		Y:    coords[1],
		Z:    coords[2],
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Spawned %s as actor %d in region %d\n", args[1], id, regionID)
	return nil
}

func (c *CLI) cmdMount(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: mount <region> <rider> <mount>")
	}
	regionID, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid region: %s", args[0])
	}
	riderID, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid actor: %s", args[1])
	}
	mountID, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid actor: %s", args[2])
	}

	if err := c.regions.Mount(uint16(regionID), uint32(riderID), uint32(mountID)); err != nil {
		return err
	}
	if mountID == 0 {
		fmt.Fprintf(c.out, "Actor %d dismounted\n", riderID)
	} else {
		fmt.Fprintf(c.out, "Actor %d now rides actor %d\n", riderID, mountID)
	}
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <token>")
	}
	token, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid token: %s", args[0])
	}
	if !c.sessions.Kick(uint16(token)) {
		return fmt.Errorf("no session with token %d", token)
	}
	fmt.Fprintf(c.out, "Kicked session %d\n", token)
	return nil
}

func (c *CLI) printLag() {
	data := c.lag.AllRegionData()
	if len(data) == 0 {
		fmt.Fprintln(c.out, "No long ticks recorded")
		return
	}
	ids := make([]int, 0, len(data))
	for id := range data {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	tw := c.newTable("Region", "Total", "Last hour", "Max ms", "Avg ms", "Last")
	for _, id := range ids {
		d := data[uint16(id)]
		tw.Append([]string{
			strconv.Itoa(id),
			strconv.Itoa(d.TotalEvents),
			strconv.Itoa(d.EventsThisHour),
			fmt.Sprintf("%.1f", d.MaxDuration),
			fmt.Sprintf("%.1f", d.AvgDuration),
			d.LastEventTime.Format(time.TimeOnly),
		})
	}
	tw.Render()
}
