package flow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/cart"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

type sentReply struct {
	to    string
	reply models.Reply
}

type recordingSender struct {
	sent []sentReply
}

func (r *recordingSender) SendReply(ctx context.Context, to string, reply models.Reply) error {
	r.sent = append(r.sent, sentReply{to: to, reply: reply})
	return nil
}

func inactivityPayload(t *testing.T, userID string, at time.Time) string {
	t.Helper()
	b, err := json.Marshal(InactivityPayload{UserID: userID, InteractionAt: at})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestInactivityHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	carts := cart.New(st)
	sender := &recordingSender{}
	handler := makeInactivityHandler(carts, sender)
	ctx := context.Background()

	interaction := time.Now().Add(-6 * time.Minute)
	c, _ := carts.CreateWelcome(testUser)
	c.LastInteraction = interaction
	carts.Save(c)

	if err := handler(ctx, inactivityPayload(t, testUser, interaction)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].reply != models.Text(InactivityNotice) {
		t.Fatalf("sent = %+v", sender.sent)
	}

	// a newer interaction supersedes the job
	c.LastInteraction = time.Now()
	carts.Save(c)
	handler(ctx, inactivityPayload(t, testUser, interaction))
	if len(sender.sent) != 1 {
		t.Errorf("notice sent despite newer interaction")
	}

	carts.Clear(testUser)
	handler(ctx, inactivityPayload(t, testUser, interaction))
	if len(sender.sent) != 1 {
		t.Errorf("notice sent without a cart")
	}

	if err := handler(ctx, "{"); err == nil {
		t.Error("expected error on malformed payload")
	}
}

func TestFollowupHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	carts := cart.New(st)
	sender := &recordingSender{}
	handler := makeFollowupHandler(carts, sender)
	ctx := context.Background()
	payload := `{"user_id":"` + testUser + `"}`

	// no cart
	handler(ctx, payload)

	c, _ := carts.CreateWelcome(testUser)
	carts.SetState(c, models.StateMenu)
	handler(ctx, payload)

	carts.SetState(c, models.StateAwaitingAddress)
	handler(ctx, payload)

	if len(sender.sent) != 2 {
		t.Fatalf("sent %d follow-ups, want 2", len(sender.sent))
	}
	for _, s := range sender.sent {
		if s.to != testUser || s.reply != models.Text(FollowupText) {
			t.Errorf("unexpected follow-up %+v", s)
		}
	}
}

func TestJobScheduler(t *testing.T) {
	st := store.NewInMemoryStore()
	sched := NewJobScheduler(st, time.Minute)

	if err := sched.ScheduleFollowup(testUser, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := sched.ScheduleFollowup(testUser, time.Second); err != nil {
		t.Fatal(err)
	}
	followups := 0
	for _, j := range st.Jobs() {
		if j.Kind == JobKindFollowupMenu {
			followups++
		}
	}
	if followups != 1 {
		t.Errorf("got %d follow-up jobs, want 1 after dedupe", followups)
	}

	at := time.Now()
	id, err := sched.RescheduleInactivity(testUser, "", at)
	if err != nil || id == "" {
		t.Fatalf("RescheduleInactivity = %q, %v", id, err)
	}
	job, _ := st.GetJob(id)
	if !job.RunAt.Equal(at.Add(time.Minute)) {
		t.Errorf("run_at = %v, want %v", job.RunAt, at.Add(time.Minute))
	}

	disabled := NewJobScheduler(st, 0)
	if id2, err := disabled.RescheduleInactivity(testUser, id, at); err != nil || id2 != "" {
		t.Errorf("disabled scheduler returned %q, %v", id2, err)
	}
	job, _ = st.GetJob(id)
	if job.Status != store.JobStatusCanceled {
		t.Errorf("previous job status = %q", job.Status)
	}
}

func TestRegisterJobHandlers_RunsDueJobs(t *testing.T) {
	st := store.NewInMemoryStore()
	carts := cart.New(st)
	sender := &recordingSender{}
	runner := store.NewJobRunner(st, 10*time.Millisecond)
	RegisterJobHandlers(runner, carts, sender)

	sched := NewJobScheduler(st, time.Minute)
	sched.ScheduleFollowup(testUser, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if j := st.Jobs(); len(j) == 1 && j[0].Status == store.JobStatusDone {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if j := st.Jobs(); len(j) != 1 || j[0].Status != store.JobStatusDone {
		t.Fatalf("jobs = %+v", j)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent = %+v", sender.sent)
	}
}
