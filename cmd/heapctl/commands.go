package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"

	"github.com/tuannm99/novaheap/internal/engine"
	"github.com/tuannm99/novaheap/internal/record"
)

var errUsage = errors.New("heapctl: bad arguments, run heapctl -h")

type commands struct {
	e   *engine.Engine
	raw bool
	out io.Writer
}

func newCommands(e *engine.Engine, opts options) *commands {
	return &commands{e: e, raw: opts.raw, out: os.Stdout}
}

func (c *commands) dispatch(ctx context.Context, args []string) error {
	switch args[0] {
	case "tables":
		return c.tables()
	case "seed":
		if len(args) != 3 {
			return errUsage
		}
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 0 {
			return fmt.Errorf("%w: row count %q", errUsage, args[2])
		}
		return c.seed(ctx, args[1], n)
	case "scan":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		limit := -1
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("%w: limit %q", errUsage, args[2])
			}
			limit = n
		}
		return c.scan(ctx, args[1], limit)
	case "inspect":
		if len(args) != 2 {
			return errUsage
		}
		return c.inspect(args[1])
	case "drop":
		if len(args) != 2 {
			return errUsage
		}
		return c.e.DropTable(args[1])
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func (c *commands) tables() error {
	metas := c.e.Tables()
	if len(metas) == 0 {
		_, err := fmt.Fprintln(c.out, mutedStyle.Render("no tables"))
		return err
	}
	rows := make([][]string, 0, len(metas))
	for _, m := range metas {
		rows = append(rows, []string{m.Name, m.Fields, humanize.Time(m.CreatedAt), humanize.Time(m.UpdatedAt)})
	}
	_, err := fmt.Fprint(c.out, renderTable([]string{"name", "fields", "created", "opened"}, rows))
	return err
}

func sampleDesc() *record.Descriptor {
	return record.NewDescriptor(
		record.NewField("id", record.TypeInt, 0),
		record.NewField("name", record.TypeText, 23),
		record.NewField("score", record.TypeFloat, 0),
		record.NewField("seen_at", record.TypeDatetime, 0),
		record.NewField("active", record.TypeBool, 0),
	)
}

func (c *commands) seed(ctx context.Context, name string, n int) error {
	t, err := c.e.OpenTable(name)
	if errors.Is(err, engine.ErrTableNotFound) {
		t, err = c.e.CreateTable(name, sampleDesc(), false)
	}
	if err != nil {
		return err
	}

	base, err := t.Count()
	if err != nil {
		return err
	}
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			// keep what was inserted so far
			_ = t.Flush()
			return fmt.Errorf("seed %s stopped after %d rows: %w", name, i, err)
		}
		id := base + i
		_, err := t.Insert(
			record.IntValue(int32(id)),
			record.TextValue(fmt.Sprintf("row-%06d", id)),
			record.FloatValue(float64(id)*1.5),
			record.DatetimeValue(start.Add(time.Duration(id)*time.Second)),
			record.BoolValue(id%3 == 0),
		)
		if err != nil {
			return fmt.Errorf("insert row %d: %w", id, err)
		}
	}
	if err := t.Flush(); err != nil {
		return err
	}

	blocks, err := c.e.Heap().NumBlocks(t.Handle)
	if err != nil {
		return err
	}
	size := uint64(blocks+1) * uint64(c.e.Store().PageSize())
	_, err = fmt.Fprintf(c.out, "inserted %s rows into %s in %s (%s blocks, %s)\n",
		humanize.Comma(int64(n)), name, time.Since(start).Round(time.Millisecond),
		humanize.Comma(int64(blocks)), humanize.IBytes(size))
	return err
}

func (c *commands) scan(ctx context.Context, name string, limit int) error {
	t, err := c.e.OpenTable(name)
	if err != nil {
		return err
	}
	sc, err := t.Scanner()
	if err != nil {
		return err
	}

	headers := append([]string{"rid"}, t.Desc().Names()...)
	var rows [][]string
	for limit < 0 || len(rows) < limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, ok, err := sc.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		row := []string{r.ID.String()}
		for _, v := range r.Values() {
			row = append(row, v.String())
		}
		rows = append(rows, row)
	}

	if _, err := fmt.Fprint(c.out, renderTable(headers, rows)); err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, mutedStyle.Render(fmt.Sprintf("%s rows, %d pages visited",
		humanize.Comma(int64(len(rows))), sc.Visited())))
	return err
}

func (c *commands) inspect(name string) error {
	t, err := c.e.OpenTable(name)
	if err != nil {
		return err
	}
	m := c.e.Heap()
	info, err := m.Inspect(t.Handle)
	if err != nil {
		return err
	}
	verifyErr := m.Verify(t.Handle)
	hdr := info.Header
	pageSize := c.e.Store().PageSize()

	out := []string{
		titleStyle.Render("heap file " + hdr.TableName),
		kv("fields", hdr.Desc),
		kv("record size", humanize.IBytes(uint64(hdr.RecordSize))),
		kv("volatile", hdr.Volatile),
		kv("tuples", humanize.Comma(int64(hdr.NumTuples))),
		kv("blocks", fmt.Sprintf("%s (%s)", humanize.Comma(int64(hdr.NumBlocks)),
			humanize.IBytes(uint64(hdr.NumBlocks+1)*uint64(pageSize)))),
		kv("page list", hdr.PageList),
		kv("last page", hdr.LastPage),
		kv("free list", fmt.Sprint(info.FreeChain)),
	}
	if verifyErr != nil {
		out = append(out, kv("verify", errorStyle.Render(verifyErr.Error())))
	} else {
		out = append(out, kv("verify", "ok"))
	}
	for _, line := range out {
		if _, err := fmt.Fprintln(c.out, line); err != nil {
			return err
		}
	}

	rows := make([][]string, 0, len(info.Pages))
	for _, p := range info.Pages {
		fill := float64(p.Occupied) / float64(max(p.MaxRecords, 1)) * 100
		rows = append(rows, []string{
			p.Page.String(),
			fmt.Sprintf("%d/%d", p.Occupied, p.MaxRecords),
			humanize.FormatFloat("#.#", fill) + "%",
			p.Prev.String(), p.Next.String(), p.NextFree.String(),
		})
	}
	if _, err := fmt.Fprint(c.out, "\n"+renderTable([]string{"page", "slots", "fill", "prev", "next", "next free"}, rows)); err != nil {
		return err
	}

	st := c.e.Pool().Stats()
	if _, err := fmt.Fprintln(c.out, mutedStyle.Render(fmt.Sprintf("pool: %s hits, %s misses, %s evictions, %s demotions",
		humanize.Comma(st.Hits), humanize.Comma(st.Misses),
		humanize.Comma(st.Evictions), humanize.Comma(st.Demotions)))); err != nil {
		return err
	}

	if c.raw {
		spew.Fdump(c.out, hdr)
		_, err := fmt.Fprint(c.out, m.DumpString(t.Handle))
		return err
	}
	return nil
}
