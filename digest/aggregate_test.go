package digest

import (
	"context"
	"errors"
	"testing"
)

var wideWindow = TimeWindow{StartMs: 0, EndMs: 1 << 60}

func TestAggregatePlain_FiltersGroupsAndRanks(t *testing.T) {
	t.Parallel()

	src := sliceSource{records: []EventRecord{
		msg(10, "a", "Alpha", "ann", "a1"),
		msg(20, "b", "Beta", "bob", "b1"),
		msg(30, "b", "Beta", "bob", "b2"),
		{ServerTimestampMs: 35, Type: "receipt", ConversationID: "b", Text: "ignored"},
		msg(40, "c", "Gamma", "cat", "   "),
		msg(50, "a", "Alpha renamed", "", "a2"),
		msg(60, "b", "Beta", "bob", "b3"),
	}}

	agg, err := AggregatePlain(context.Background(), wideWindow, src, 0, ChatFilter{})
	if err != nil {
		t.Fatalf("AggregatePlain: %v", err)
	}
	if agg.TotalMessages != 5 {
		t.Fatalf("TotalMessages=%d, want 5", agg.TotalMessages)
	}
	if len(agg.Buckets) != 2 {
		t.Fatalf("len(buckets)=%d, want 2", len(agg.Buckets))
	}
	if agg.Buckets[0].ConversationID != "b" || agg.Buckets[1].ConversationID != "a" {
		t.Fatalf("order=%s,%s, want b,a", agg.Buckets[0].ConversationID, agg.Buckets[1].ConversationID)
	}
	if agg.Buckets[1].Title != "Alpha renamed" {
		t.Fatalf("title=%q, want last seen title", agg.Buckets[1].Title)
	}
	if got := agg.Buckets[1].Messages[1].Sender; got != "unknown" {
		t.Fatalf("sender=%q, want unknown", got)
	}
}

func TestAggregatePlain_WindowIsHalfOpen(t *testing.T) {
	t.Parallel()

	src := sliceSource{records: []EventRecord{
		msg(99, "a", "A", "x", "before"),
		msg(100, "a", "A", "x", "start"),
		msg(199, "a", "A", "x", "last"),
		msg(200, "a", "A", "x", "end"),
	}}
	agg, err := AggregatePlain(context.Background(), TimeWindow{StartMs: 100, EndMs: 200}, src, 0, ChatFilter{})
	if err != nil {
		t.Fatalf("AggregatePlain: %v", err)
	}
	if agg.TotalMessages != 2 {
		t.Fatalf("TotalMessages=%d, want 2", agg.TotalMessages)
	}
	msgs := agg.Buckets[0].Messages
	if msgs[0].Text != "start" || msgs[1].Text != "last" {
		t.Fatalf("messages=%+v", msgs)
	}
}

func TestAggregatePlain_KeepsMostRecentAscending(t *testing.T) {
	t.Parallel()

	src := sliceSource{records: []EventRecord{
		msg(50, "a", "A", "x", "m50"),
		msg(10, "a", "A", "x", "m10"),
		msg(40, "a", "A", "x", "m40"),
		msg(20, "a", "A", "x", "m20"),
		msg(30, "a", "A", "x", "m30"),
	}}
	agg, err := AggregatePlain(context.Background(), wideWindow, src, 2, ChatFilter{})
	if err != nil {
		t.Fatalf("AggregatePlain: %v", err)
	}
	msgs := agg.Buckets[0].Messages
	if len(msgs) != 2 || msgs[0].Text != "m40" || msgs[1].Text != "m50" {
		t.Fatalf("messages=%+v, want m40,m50", msgs)
	}
	if agg.TotalMessages != 5 {
		t.Fatalf("TotalMessages=%d, want 5 (counted before capping)", agg.TotalMessages)
	}
}

func TestAggregatePlain_StableOnTimestampTies(t *testing.T) {
	t.Parallel()

	src := sliceSource{records: []EventRecord{
		msg(10, "a", "A", "x", "first"),
		msg(10, "a", "A", "x", "second"),
		msg(10, "a", "A", "x", "third"),
	}}
	agg, err := AggregatePlain(context.Background(), wideWindow, src, 0, ChatFilter{})
	if err != nil {
		t.Fatalf("AggregatePlain: %v", err)
	}
	msgs := agg.Buckets[0].Messages
	if msgs[0].Text != "first" || msgs[1].Text != "second" || msgs[2].Text != "third" {
		t.Fatalf("messages=%+v, want scan order", msgs)
	}
}

func TestAggregatePlain_RankTiesKeepFirstSeenOrder(t *testing.T) {
	t.Parallel()

	src := sliceSource{records: []EventRecord{
		msg(10, "z", "Z", "x", "z1"),
		msg(20, "y", "Y", "x", "y1"),
		msg(30, "x", "X", "x", "x1"),
	}}
	agg, err := AggregatePlain(context.Background(), wideWindow, src, 0, ChatFilter{})
	if err != nil {
		t.Fatalf("AggregatePlain: %v", err)
	}
	got := []string{agg.Buckets[0].ConversationID, agg.Buckets[1].ConversationID, agg.Buckets[2].ConversationID}
	if got[0] != "z" || got[1] != "y" || got[2] != "x" {
		t.Fatalf("order=%v, want [z y x]", got)
	}
}

func TestAggregatePlain_MessageTimestampFallsBackToServer(t *testing.T) {
	t.Parallel()

	rec := msg(500, "a", "A", "x", "hi")
	rec.MessageTimestampMs = 0
	agg, err := AggregatePlain(context.Background(), wideWindow, sliceSource{records: []EventRecord{rec}}, 0, ChatFilter{})
	if err != nil {
		t.Fatalf("AggregatePlain: %v", err)
	}
	if got := agg.Buckets[0].Messages[0].TimestampMs; got != 500 {
		t.Fatalf("ts=%d, want 500", got)
	}
}

func TestAggregatePlain_EmptySource(t *testing.T) {
	t.Parallel()

	agg, err := AggregatePlain(context.Background(), wideWindow, sliceSource{}, 5, ChatFilter{})
	if err != nil {
		t.Fatalf("AggregatePlain: %v", err)
	}
	if len(agg.Buckets) != 0 || agg.TotalMessages != 0 {
		t.Fatalf("agg=%+v, want empty", agg)
	}
}

func TestAggregatePlain_PropagatesScanError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk gone")
	_, err := AggregatePlain(context.Background(), wideWindow, sliceSource{err: boom}, 5, ChatFilter{})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want wrapped %v", err, boom)
	}
}

func TestAggregateForExtraction_CapsConversationsAndMessages(t *testing.T) {
	t.Parallel()

	src := sliceSource{records: []EventRecord{
		msg(10, "a", "A", "x", "a1"),
		msg(20, "b", "B", "x", "b1"),
		msg(30, "b", "B", "x", "b2"),
		msg(40, "c", "C", "x", "c1"),
		msg(50, "c", "C", "x", "c2"),
		msg(60, "c", "C", "x", "c3"),
	}}
	buckets, err := AggregateForExtraction(context.Background(), wideWindow, src, 2, 2, ChatFilter{})
	if err != nil {
		t.Fatalf("AggregateForExtraction: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("len(buckets)=%d, want 2", len(buckets))
	}
	if buckets[0].ConversationID != "c" || buckets[1].ConversationID != "b" {
		t.Fatalf("order=%s,%s, want c,b", buckets[0].ConversationID, buckets[1].ConversationID)
	}
	c := buckets[0].Messages
	if len(c) != 2 || c[0].Text != "c3" || c[1].Text != "c2" {
		t.Fatalf("c messages=%+v, want newest first c3,c2", c)
	}
}

func TestChatFilter(t *testing.T) {
	t.Parallel()

	f, err := NewChatFilter([]string{"*@g.us", "Family*"}, []string{"*spam*"})
	if err != nil {
		t.Fatalf("NewChatFilter: %v", err)
	}
	tests := []struct {
		id, title string
		want      bool
	}{
		{"123@g.us", "Work", true},
		{"555@s.whatsapp.net", "Family chat", true},
		{"555@s.whatsapp.net", "Friends", false},
		{"999@g.us", "spam central", false},
	}
	for _, tt := range tests {
		if got := f.Allows(tt.id, tt.title); got != tt.want {
			t.Fatalf("Allows(%q, %q)=%v, want %v", tt.id, tt.title, got, tt.want)
		}
	}

	if !(ChatFilter{}).Allows("anything", "") {
		t.Fatalf("zero filter should allow everything")
	}
}

func TestAggregate_FilterSeesWholeConversation(t *testing.T) {
	t.Parallel()

	f, err := NewChatFilter(nil, []string{"*spam*"})
	if err != nil {
		t.Fatalf("NewChatFilter: %v", err)
	}
	src := sliceSource{records: []EventRecord{
		msg(1, "a", "Neighbours", "x", "hi"),
		msg(2, "a", "Neighbours spam", "y", "buy now"),
		msg(3, "a", "Neighbours", "z", "back to normal"),
		msg(4, "b", "Renamed to spam", "x", "first"),
		msg(5, "b", "Book club", "x", "second"),
		msg(6, "c", "Promo spam", "x", "deal"),
	}}

	agg, err := AggregatePlain(context.Background(), wideWindow, src, 0, f)
	if err != nil {
		t.Fatalf("AggregatePlain: %v", err)
	}
	if agg.TotalMessages != 5 {
		t.Fatalf("TotalMessages=%d, want 5", agg.TotalMessages)
	}
	if len(agg.Buckets) != 2 || agg.Buckets[0].ConversationID != "a" || agg.Buckets[1].ConversationID != "b" {
		t.Fatalf("buckets=%+v", agg.Buckets)
	}
	if len(agg.Buckets[0].Messages) != 3 || len(agg.Buckets[1].Messages) != 2 {
		t.Fatalf("conversation split by the filter: %+v", agg.Buckets)
	}

	buckets, err := AggregateForExtraction(context.Background(), wideWindow, src, 0, 0, f)
	if err != nil {
		t.Fatalf("AggregateForExtraction: %v", err)
	}
	if len(buckets) != 2 || len(buckets[0].Messages) != 3 {
		t.Fatalf("extraction buckets=%+v", buckets)
	}
}
