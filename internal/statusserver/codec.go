package statusserver

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/dispatcher"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/sigctx"
)

// Status is a point-in-time view of the running isolate.
type Status struct {
	Owner      string
	State      string
	BinaryHash string
	OpenedAt   time.Time
	// Signals are the handled signal numbers, ascending.
	Signals []int
	// Delivered counts callbacks run per signal since Open.
	Delivered map[int]uint64
	// Pending counts deliveries recorded but not yet dispatched.
	Pending map[int]uint64
}

// Delivery is one dispatched signal as seen by a watcher.
type Delivery struct {
	Signal int
	Name   string
	Seq    uint64
	At     time.Time
}

func countsValue(m map[int]uint64) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for sig, n := range m {
		out[strconv.Itoa(sig)] = float64(n)
	}
	return out
}

func encodeStatus(st Status) (*structpb.Struct, error) {
	sigs := make([]interface{}, 0, len(st.Signals))
	names := make(map[string]interface{}, len(st.Signals))
	for _, sig := range st.Signals {
		sigs = append(sigs, float64(sig))
		if name := sigctx.Name(sig); name != "" {
			names[strconv.Itoa(sig)] = name
		}
	}
	var openedAt string
	if !st.OpenedAt.IsZero() {
		openedAt = st.OpenedAt.UTC().Format(time.RFC3339Nano)
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		"owner":       st.Owner,
		"state":       st.State,
		"binary_hash": st.BinaryHash,
		"opened_at":   openedAt,
		"signals":     sigs,
		"names":       names,
		"delivered":   countsValue(st.Delivered),
		"pending":     countsValue(st.Pending),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode status: %w", err)
	}
	return s, nil
}

func encodeDelivery(d dispatcher.Delivery) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"signal": float64(d.Signal),
		"name":   sigctx.Name(d.Signal),
		"seq":    float64(d.Seq),
		"at":     d.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode delivery: %w", err)
	}
	return s, nil
}

func decodeCounts(v *structpb.Value) (map[int]uint64, error) {
	out := make(map[int]uint64)
	for k, n := range v.GetStructValue().GetFields() {
		sig, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("bad signal key %q: %w", k, err)
		}
		out[sig] = uint64(n.GetNumberValue())
	}
	return out, nil
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// DecodeStatus parses the message returned by GetStatus.
func DecodeStatus(s *structpb.Struct) (Status, error) {
	f := s.GetFields()
	st := Status{
		Owner:      f["owner"].GetStringValue(),
		State:      f["state"].GetStringValue(),
		BinaryHash: f["binary_hash"].GetStringValue(),
	}
	var err error
	if st.OpenedAt, err = decodeTime(f["opened_at"].GetStringValue()); err != nil {
		return Status{}, fmt.Errorf("bad opened_at: %w", err)
	}
	for _, v := range f["signals"].GetListValue().GetValues() {
		st.Signals = append(st.Signals, int(v.GetNumberValue()))
	}
	sort.Ints(st.Signals)
	if st.Delivered, err = decodeCounts(f["delivered"]); err != nil {
		return Status{}, err
	}
	if st.Pending, err = decodeCounts(f["pending"]); err != nil {
		return Status{}, err
	}
	return st, nil
}

// DecodeDelivery parses one message from the WatchDeliveries stream.
func DecodeDelivery(s *structpb.Struct) (Delivery, error) {
	f := s.GetFields()
	at, err := decodeTime(f["at"].GetStringValue())
	if err != nil {
		return Delivery{}, fmt.Errorf("bad at: %w", err)
	}
	return Delivery{
		Signal: int(f["signal"].GetNumberValue()),
		Name:   f["name"].GetStringValue(),
		Seq:    uint64(f["seq"].GetNumberValue()),
		At:     at,
	}, nil
}
