package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/eigerco/ustore/internal/arena"
	"github.com/eigerco/ustore/internal/soa"
	"github.com/eigerco/ustore/internal/store"
	"github.com/eigerco/ustore/pkg/db"
	"github.com/eigerco/ustore/pkg/log"
)

type Globals struct {
	Dir        string `help:"Store directory." default:"./ustore-data"`
	Engine     string `help:"Storage engine." default:"pebble" enum:"pebble,bolt"`
	Collection string `help:"Collection name; empty selects main." default:""`
	Verbose    bool   `help:"Enable debug logging." short:"v"`
}

func (g Globals) open() (*store.Store, db.Collection, error) {
	level := zerolog.InfoLevel
	if g.Verbose {
		level = zerolog.DebugLevel
	}
	log.Init(log.Options{LogLevel: level, Type: log.ConsoleLogger})

	cfg, err := json.Marshal(store.Config{
		Version:   store.Version,
		Directory: g.Dir,
		Engine:    g.Engine,
	})
	if err != nil {
		return nil, 0, err
	}
	s, err := store.Open(string(cfg))
	if err != nil {
		return nil, 0, err
	}
	col, err := s.CollectionOpen(g.Collection)
	if err != nil {
		_ = s.Close()
		return nil, 0, err
	}
	return s, col, nil
}

type GetCmd struct {
	Keys []int64 `arg:"" help:"Keys to read."`
}

func (c *GetCmd) Run(g *Globals) error {
	s, col, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	keys := make([]db.Key, len(c.Keys))
	for i, k := range c.Keys {
		keys[i] = db.Key(k)
	}
	a := arena.New()
	lens, tape, err := s.Read(nil, soa.PlacesOf(col, keys), 0, a)
	if err != nil {
		return err
	}
	off := uint32(0)
	for i, l := range lens {
		if l == db.ValLenMissing {
			fmt.Printf("%d\t<missing>\n", keys[i])
			continue
		}
		fmt.Printf("%d\t%q\n", keys[i], tape[off:off+l])
		off += l
	}
	return nil
}

type PutCmd struct {
	Key   int64  `arg:"" help:"Key to write."`
	Value string `arg:"" help:"Value bytes."`
	Flush bool   `help:"Force the write to stable storage."`
}

func (c *PutCmd) Run(g *Globals) error {
	s, col, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	opts := store.Options(0)
	if c.Flush {
		opts |= store.OptWriteFlush
	}
	return s.Write(nil, soa.PlacesOf(col, []db.Key{db.Key(c.Key)}),
		soa.ContentsOf([][]byte{[]byte(c.Value)}), opts)
}

type DelCmd struct {
	Keys []int64 `arg:"" help:"Keys to remove."`
}

func (c *DelCmd) Run(g *Globals) error {
	s, col, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	keys := make([]db.Key, len(c.Keys))
	for i, k := range c.Keys {
		keys[i] = db.Key(k)
	}
	return s.Write(nil, soa.PlacesOf(col, keys), soa.Contents{Count: len(keys)}, 0)
}

type ScanCmd struct {
	Min   int64  `help:"Smallest key to return." default:"-9223372036854775808"`
	Limit uint32 `help:"Maximum number of keys." default:"32"`
}

func (c *ScanCmd) Run(g *Globals) error {
	s, col, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	a := arena.New()
	_, keys, err := s.Scan(nil, soa.Scans{
		Collections: soa.Broadcast(col),
		MinKeys:     soa.New([]db.Key{db.Key(c.Min)}),
		Limits:      soa.New([]uint32{c.Limit}),
		Count:       1,
	}, 0, a)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(int64(k))
	}
	return nil
}

type SampleCmd struct {
	Limit uint32 `help:"Number of keys to draw." default:"8"`
	Seed  int64  `help:"Sampling seed." default:"0"`
}

func (c *SampleCmd) Run(g *Globals) error {
	s, col, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	a := arena.New()
	_, keys, err := s.Sample(soa.Samples{
		Collections: soa.Broadcast(col),
		Limits:      soa.New([]uint32{c.Limit}),
		Count:       1,
	}, c.Seed, 0, a)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(int64(k))
	}
	return nil
}

type MeasureCmd struct{}

func (c *MeasureCmd) Run(g *Globals) error {
	s, col, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	ms, err := s.Measure([]db.Collection{col})
	if err != nil {
		return err
	}
	m := ms[0]
	approx := ""
	if m.Approximate {
		approx = " (approximate)"
	}
	fmt.Printf("keys: %d\nbytes: %d%s\n", m.Keys, m.Bytes, approx)
	return nil
}

type CollectionsCmd struct {
	List CollectionsListCmd `cmd:"" default:"1" help:"List named collections."`
	New  CollectionsNewCmd  `cmd:"" help:"Create-or-open a named collection."`
	Drop CollectionsDropCmd `cmd:"" help:"Drop a named collection and all its keys."`
}

type CollectionsListCmd struct{}

func (c *CollectionsListCmd) Run(g *Globals) error {
	s, _, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	names, err := s.CollectionList()
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(names, "\n"))
	return nil
}

type CollectionsNewCmd struct {
	Name string `arg:"" help:"Collection name."`
}

func (c *CollectionsNewCmd) Run(g *Globals) error {
	s, _, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	_, err = s.CollectionOpen(c.Name)
	return err
}

type CollectionsDropCmd struct {
	Name string `arg:"" help:"Collection name."`
}

func (c *CollectionsDropCmd) Run(g *Globals) error {
	s, _, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	return s.CollectionRemove(c.Name)
}

type ControlCmd struct {
	Request string `arg:"" help:"Control request: version, instance or engine."`
}

func (c *ControlCmd) Run(g *Globals) error {
	s, _, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	response, err := s.Control(c.Request)
	if err != nil {
		return err
	}
	fmt.Println(response)
	return nil
}

type CLI struct {
	Globals

	Get         GetCmd         `cmd:"" help:"Read values by key."`
	Put         PutCmd         `cmd:"" help:"Write one value."`
	Del         DelCmd         `cmd:"" help:"Remove keys."`
	Scan        ScanCmd        `cmd:"" help:"List keys in ascending order."`
	Sample      SampleCmd      `cmd:"" help:"Draw a random key sample."`
	Measure     MeasureCmd     `cmd:"" help:"Show collection size metadata."`
	Collections CollectionsCmd `cmd:"" help:"Manage named collections."`
	Control     ControlCmd     `cmd:"" help:"Issue a database control request."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ustore"),
		kong.Description("Embeddable transactional multi-modal key-value store."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
