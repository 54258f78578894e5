package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/crystal-mush/musedb/pkg/boltstore"
	"github.com/crystal-mush/musedb/pkg/flatfile"
	"github.com/crystal-mush/musedb/pkg/gamedb"
	"github.com/crystal-mush/musedb/pkg/sqlexport"
	"github.com/crystal-mush/musedb/pkg/validate"
)

func main() {
	dbPath := flag.String("db", "", "Path to MUSE flatfile")
	boltPath := flag.String("bolt", "", "Path to bbolt database (read when -db is not given)")
	showPlayers := flag.Bool("players", false, "List all player objects")
	showRooms := flag.Bool("rooms", false, "List room summary")
	showObj := flag.Int("obj", -1, "Show details for a specific object by dbref")
	showAttrStats := flag.Bool("attrstats", false, "Show attribute usage statistics")
	runValidate := flag.Bool("validate", false, "Run integrity checks")
	fix := flag.Bool("fix", false, "Apply every fixable finding (with -validate)")
	reportPath := flag.String("report", "", "Write the validation report as JSON to this file")
	savePath := flag.String("save", "", "Write the (possibly fixed) database to this flatfile")
	toBolt := flag.String("tobolt", "", "Import the database into this bbolt file")
	sqlPath := flag.String("sqlexport", "", "Export live objects into this SQLite file")
	query := flag.String("query", "", "Run a SELECT against the -sqlexport file")
	flag.Parse()

	if *dbPath == "" && *boltPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: dbtool -db <flatfile> | -bolt <boltfile> [options]")
		fmt.Fprintln(os.Stderr, "  -players            List all players")
		fmt.Fprintln(os.Stderr, "  -rooms              List rooms summary")
		fmt.Fprintln(os.Stderr, "  -obj <dbref>        Show object details")
		fmt.Fprintln(os.Stderr, "  -attrstats          Show attribute usage stats")
		fmt.Fprintln(os.Stderr, "  -validate [-fix]    Run integrity checks, optionally repairing")
		fmt.Fprintln(os.Stderr, "  -report <file>      Write the validation report as JSON")
		fmt.Fprintln(os.Stderr, "  -save <file>        Write a flatfile dump")
		fmt.Fprintln(os.Stderr, "  -tobolt <file>      Import into a bbolt database")
		fmt.Fprintln(os.Stderr, "  -sqlexport <file>   Export into SQLite")
		fmt.Fprintln(os.Stderr, "  -query <sql>        Query the SQLite export")
		os.Exit(1)
	}

	start := time.Now()
	db, err := load(*dbPath, *boltPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded in %v\n\n", time.Since(start))

	printSummary(db)

	if *showPlayers {
		fmt.Println()
		printPlayers(db)
	}
	if *showRooms {
		fmt.Println()
		printRooms(db)
	}
	if *showObj >= 0 {
		fmt.Println()
		printObject(db, gamedb.DBRef(*showObj))
	}
	if *showAttrStats {
		fmt.Println()
		printAttrStats(db)
	}
	if *runValidate {
		fmt.Println()
		if err := runValidation(db, *fix, *reportPath); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
	}
	if *savePath != "" {
		if err := flatfile.Save(*savePath, db); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nSaved flatfile (version %d) to %s\n", flatfile.CurrentVersion, *savePath)
	}
	if *toBolt != "" {
		if err := importBolt(db, *toBolt); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nImported into %s\n", *toBolt)
	}
	if *sqlPath != "" {
		if err := exportSQL(db, *sqlPath, *query); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
	}
}

func load(dbPath, boltPath string) (*gamedb.DB, error) {
	if dbPath != "" {
		fmt.Printf("Loading flatfile: %s\n", dbPath)
		return flatfile.Load(dbPath, flatfile.Options{})
	}
	fmt.Printf("Loading bolt: %s\n", boltPath)
	store, err := boltstore.Open(boltPath, nil)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	db := gamedb.New(gamedb.Options{})
	if err := store.LoadInto(db); err != nil {
		return nil, err
	}
	return db, nil
}

func importBolt(db *gamedb.DB, path string) error {
	store, err := boltstore.Open(path, nil)
	if err != nil {
		return err
	}
	if err := store.SaveDB(db); err != nil {
		store.Close()
		return err
	}
	return store.Close()
}

func exportSQL(db *gamedb.DB, path, query string) error {
	ctx := context.Background()
	s, err := sqlexport.Open(path, nil)
	if err != nil {
		return err
	}
	defer s.Close()
	n, err := s.Export(ctx, db)
	if err != nil {
		return err
	}
	fmt.Printf("\nExported %d objects, %d attributes, %d definitions, %d parent edges to %s\n",
		n.Objects, n.Attrs, n.Defs, n.Parents, path)
	if query == "" {
		return nil
	}
	out, err := s.Query(ctx, query, "\n", "\t")
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func printSummary(db *gamedb.DB) {
	s := db.Stats()
	fmt.Println("=== DATABASE SUMMARY ===")
	fmt.Printf("Top:            %d slots\n", s.Top)
	fmt.Printf("Capacity:       %d slots\n", s.Capacity)
	fmt.Printf("Live objects:   %d\n", s.Live())
	fmt.Printf("Free slots:     %d\n", s.Free)
	fmt.Printf("Attr defs:      %d user-defined attributes\n", s.UserDefs)
	fmt.Printf("Attr entries:   %d\n", s.AttrEntries)
	fmt.Printf("Bytes:          %d\n", s.Bytes)

	fmt.Println("\n--- Object Counts by Type ---")
	counts := []struct {
		t gamedb.ObjectType
		n int
	}{
		{gamedb.TypeRoom, s.Rooms},
		{gamedb.TypeThing, s.Things},
		{gamedb.TypeExit, s.Exits},
		{gamedb.TypePlayer, s.Players},
		{gamedb.TypeChannel, s.Channels},
		{gamedb.TypeUniverse, s.Universes},
	}
	for _, c := range counts {
		if c.n > 0 {
			fmt.Printf("  %-10s %d\n", c.t.String(), c.n)
		}
	}
	fmt.Printf("  %-10s %d\n", "GOING", s.Going)
}

// live lists the slots that hold real objects, in index order.
func live(db *gamedb.DB) []gamedb.DBRef {
	var out []gamedb.DBRef
	for i := 0; i < db.Top(); i++ {
		r := gamedb.DBRef(i)
		if db.GoodObject(r) && !db.IsDestroyed(r) {
			out = append(out, r)
		}
	}
	return out
}

func printPlayers(db *gamedb.DB) {
	fmt.Println("=== PLAYERS ===")
	fmt.Printf("%-8s %-25s %-10s %s\n", "DBRef", "Name", "Location", "Modified")
	fmt.Println(strings.Repeat("-", 75))
	n := 0
	for _, r := range live(db) {
		o := db.Get(r)
		if o.ObjType() != gamedb.TypePlayer {
			continue
		}
		mod := "never"
		if !o.Modified.IsZero() {
			mod = o.Modified.Format("2006-01-02 15:04")
		}
		fmt.Printf("#%-7d %-25s #%-9d %s\n", r, truncate(o.Name, 25), o.Location, mod)
		n++
	}
	fmt.Printf("\nTotal players: %d\n", n)
}

func printRooms(db *gamedb.DB) {
	fmt.Println("=== ROOMS (first 50) ===")
	fmt.Printf("%-8s %-40s %8s %8s\n", "DBRef", "Name", "Contents", "Exits")
	fmt.Println(strings.Repeat("-", 68))
	total, shown := 0, 0
	for _, r := range live(db) {
		o := db.Get(r)
		if o.ObjType() != gamedb.TypeRoom {
			continue
		}
		total++
		if shown < 50 {
			fmt.Printf("#%-7d %-40s %8d %8d\n", r, truncate(o.Name, 40),
				len(db.ContentsOf(r)), len(db.ExitsOf(r)))
			shown++
		}
	}
	fmt.Printf("\nTotal rooms: %d (showing first %d)\n", total, shown)
}

func printObject(db *gamedb.DB, ref gamedb.DBRef) {
	if !db.GoodObject(ref) {
		fmt.Printf("Object #%d not found in database\n", ref)
		return
	}
	o := db.Get(ref)

	fmt.Printf("=== OBJECT #%d ===\n", ref)
	fmt.Printf("Name:       %s\n", o.Name)
	fmt.Printf("Type:       %s\n", o.ObjType())
	fmt.Printf("Location:   #%d\n", o.Location)
	fmt.Printf("Zone:       #%d\n", o.Zone)
	fmt.Printf("Contents:   %v\n", db.ContentsOf(ref))
	if o.ObjType() == gamedb.TypeRoom {
		fmt.Printf("Exits:      %v\n", db.ExitsOf(ref))
	} else {
		fmt.Printf("Home:       #%d\n", o.Exits)
	}
	fmt.Printf("Link:       #%d\n", o.Link)
	fmt.Printf("Owner:      #%d\n", o.Owner)
	fmt.Printf("Parents:    %v\n", o.Parents)
	fmt.Printf("Children:   %v\n", o.Children)
	fmt.Printf("Flags:      %s\n", gamedb.FlagString(o.Flags))
	if !o.Created.IsZero() {
		fmt.Printf("Created:    %s\n", o.Created.Format(time.RFC3339))
	}
	if !o.Modified.IsZero() {
		fmt.Printf("Modified:   %s\n", o.Modified.Format(time.RFC3339))
	}
	fmt.Printf("Destroyed:  %v\n", db.IsDestroyed(ref))

	if len(o.Defs) > 0 {
		fmt.Printf("\n--- Definitions (%d) ---\n", len(o.Defs))
		for _, d := range o.Defs {
			fmt.Printf("  %s flags=0x%03x refs=%d\n", d.Name, d.Flags, d.Refs())
		}
	}

	attrs := db.Attrs(ref)
	fmt.Printf("\n--- Attributes (%d) ---\n", len(attrs))
	for _, a := range attrs {
		name := a.Def.Name
		if !a.Def.IsBuiltin() {
			name = fmt.Sprintf("#%d.%s", a.Def.Owner, a.Def.Name)
		}
		fmt.Printf("  %s = %s\n", name, truncate(a.Value, 120))
	}
}

func printAttrStats(db *gamedb.DB) {
	fmt.Println("=== ATTRIBUTE STATISTICS ===")

	usage := make(map[*gamedb.AttrDef]int)
	for _, r := range live(db) {
		for _, a := range db.Attrs(r) {
			usage[a.Def]++
		}
	}

	type attrCount struct {
		name  string
		count int
	}
	var counts []attrCount
	for def, n := range usage {
		name := def.Name
		if !def.IsBuiltin() {
			name = fmt.Sprintf("#%d.%s", def.Owner, def.Name)
		}
		counts = append(counts, attrCount{name, n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].name < counts[j].name
	})

	fmt.Printf("%-40s %s\n", "Name", "Usage Count")
	fmt.Println(strings.Repeat("-", 55))
	limit := min(50, len(counts))
	for _, c := range counts[:limit] {
		fmt.Printf("%-40s %d\n", truncate(c.name, 40), c.count)
	}
	fmt.Printf("\nTotal distinct attributes in use: %d\n", len(usage))
}

func runValidation(db *gamedb.DB, fix bool, reportPath string) error {
	fmt.Println("=== VALIDATION ===")
	v := validate.New(db)
	v.Run()
	if fix {
		fmt.Printf("Applied %d fixes\n\n", v.FixAll())
	}
	rep := validate.GenerateReport(v)
	if err := rep.WriteText(os.Stdout); err != nil {
		return err
	}
	if reportPath == "" {
		return nil
	}
	f, err := os.Create(reportPath)
	if err != nil {
		return err
	}
	if err := rep.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
