package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	api "github.com/panelforge/panelforge/api/v1alpha1"
	"github.com/panelforge/panelforge/internal/generator"
	"github.com/panelforge/panelforge/internal/orchestrator"
	"github.com/panelforge/panelforge/internal/service"
)

func TestService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Job Service Suite")
}

type fakePersister struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*api.Job
}

func newFakePersister() *fakePersister {
	return &fakePersister{jobs: map[uuid.UUID]*api.Job{}}
}

func (f *fakePersister) Save(ctx context.Context, job *api.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakePersister) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}

func (f *fakePersister) get(id uuid.UUID) *api.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func goodPanel(topic string) *api.Panel {
	return &api.Panel{
		Title:   topic + " in Musterstadt",
		Summary: "Wir sind für Sie da, von der ersten Beratung bis zur Umsetzung vor Ort.",
		Sections: []api.Section{
			{Heading: "Leistungen", Bullets: []string{"Beratung", "Umsetzung"}},
		},
		FAQs:     []api.FAQ{{Question: "Frage?", Answer: "Antwort."}},
		Keywords: []string{topic},
	}
}

func validInput(n int) api.UserInput {
	return api.UserInput{
		BusinessName: "Muster Gartenbau GmbH",
		Description:  "Gartenbau und Gartenpflege",
		City:         "Musterstadt",
		PanelCount:   n,
	}
}

var _ = Describe("job service", func() {
	var (
		registry  *orchestrator.Registry
		persister *fakePersister
		flusher   *orchestrator.Flusher
		srv       *service.JobService
		release   chan struct{}
	)

	// newService wires a service over an in-memory registry. The generator
	// blocks until release is closed so specs can observe intermediate state.
	newService := func(gen generator.Generator) {
		registry = orchestrator.NewRegistry()
		persister = newFakePersister()
		flusher = orchestrator.NewFlusher(persister, registry, 5*time.Millisecond)
		orch := orchestrator.New(registry, gen, flusher, orchestrator.Config{
			MaxRetries:     0,
			InitialBackoff: time.Millisecond,
		})
		srv = service.NewJobService(registry, orch, flusher)
	}

	gatedGenerator := func() generator.Generator {
		return generator.Func(func(ctx context.Context, input api.UserInput, topic string, exclude []string) (*api.Panel, error) {
			<-release
			return goodPanel(topic), nil
		})
	}

	BeforeEach(func() {
		release = make(chan struct{})
		newService(gatedGenerator())
	})

	AfterEach(func() {
		flusher.Close()
	})

	waitForState := func(id uuid.UUID, state api.JobState) {
		Eventually(func() api.JobState {
			job, err := srv.GetStatus(context.TODO(), id)
			Expect(err).To(BeNil())
			return job.State
		}).WithTimeout(2 * time.Second).WithPolling(5 * time.Millisecond).Should(Equal(state))
	}

	Context("start", func() {
		It("creates one pending slot per requested panel", func() {
			job, err := srv.Start(context.TODO(), validInput(4))
			Expect(err).To(BeNil())
			Expect(job.ID).ToNot(Equal(uuid.Nil))
			Expect(job.Panels).To(HaveLen(4))
			for i, slot := range job.Panels {
				Expect(slot.Index).To(Equal(i))
				Expect(slot.Status).To(Equal(api.PanelStatusPending))
			}
		})

		It("derives the panel count from explicit topics", func() {
			input := api.UserInput{City: "Musterstadt", Topics: []string{"Gartenbau", "Zaunbau"}}
			job, err := srv.Start(context.TODO(), input)
			Expect(err).To(BeNil())
			Expect(job.Panels).To(HaveLen(2))
		})

		It("rejects input without panels", func() {
			_, err := srv.Start(context.TODO(), api.UserInput{Description: "irgendwas"})
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
		})

		It("rejects input without any business context", func() {
			_, err := srv.Start(context.TODO(), api.UserInput{PanelCount: 3})
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
		})

		It("returns a snapshot taken before the run loop starts", func() {
			// an immediate generator makes the loop race the response path
			newService(generator.Func(func(ctx context.Context, input api.UserInput, topic string, exclude []string) (*api.Panel, error) {
				return goodPanel(topic), nil
			}))

			for i := 0; i < 25; i++ {
				job, err := srv.Start(context.TODO(), validInput(2))
				Expect(err).To(BeNil())
				Expect(job.State).To(Equal(api.JobStateQueued))
				for _, slot := range job.Panels {
					Expect(slot.Status).To(Equal(api.PanelStatusPending))
				}
			}
		})

		It("persists the new job immediately", func() {
			job, err := srv.Start(context.TODO(), validInput(2))
			Expect(err).To(BeNil())
			Expect(persister.get(job.ID)).ToNot(BeNil())
		})

		It("runs the job to completion", func() {
			job, err := srv.Start(context.TODO(), validInput(3))
			Expect(err).To(BeNil())

			close(release)
			waitForState(job.ID, api.JobStateDone)

			done, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(done.Progress).To(Equal(float64(100)))
			for _, slot := range done.Panels {
				Expect(slot.Status).To(Equal(api.PanelStatusOk))
				Expect(slot.Panel).ToNot(BeNil())
				Expect(slot.Lint).ToNot(BeNil())
			}
		})
	})

	Context("status", func() {
		It("returns a not-found error for unknown jobs", func() {
			_, err := srv.GetStatus(context.TODO(), uuid.New())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
		})

		It("hands out deep copies", func() {
			job, err := srv.Start(context.TODO(), validInput(1))
			Expect(err).To(BeNil())

			got, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			got.Panels[0].Status = api.PanelStatusFailed

			fresh, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(fresh.Panels[0].Status).To(Equal(api.PanelStatusPending))
		})

		It("lists jobs newest first", func() {
			first, err := srv.Start(context.TODO(), validInput(1))
			Expect(err).To(BeNil())
			second, err := srv.Start(context.TODO(), validInput(1))
			Expect(err).To(BeNil())

			jobs := srv.List(context.TODO())
			Expect(jobs).To(HaveLen(2))
			Expect(jobs[0].ID).To(Equal(second.ID))
			Expect(jobs[1].ID).To(Equal(first.ID))
		})
	})

	Context("pause and resume", func() {
		It("pauses a running job and resumes it", func() {
			job, err := srv.Start(context.TODO(), validInput(2))
			Expect(err).To(BeNil())
			waitForState(job.ID, api.JobStateRunning)

			Expect(srv.Pause(context.TODO(), job.ID)).To(Succeed())
			waitForState(job.ID, api.JobStatePaused)

			close(release)
			// paused jobs make no progress
			Consistently(func() api.JobState {
				got, err := srv.GetStatus(context.TODO(), job.ID)
				Expect(err).To(BeNil())
				return got.State
			}).WithTimeout(50 * time.Millisecond).Should(Equal(api.JobStatePaused))

			Expect(srv.Resume(context.TODO(), job.ID)).To(Succeed())
			waitForState(job.ID, api.JobStateDone)
		})

		It("ignores a pause on a queued job", func() {
			job, err := srv.Start(context.TODO(), validInput(1))
			Expect(err).To(BeNil())

			// the loop may not have claimed the job yet; pausing must not
			// corrupt the queued state
			Expect(srv.Pause(context.TODO(), job.ID)).To(Succeed())
			close(release)
			Eventually(func() api.JobState {
				got, err := srv.GetStatus(context.TODO(), job.ID)
				Expect(err).To(BeNil())
				return got.State
			}).WithTimeout(2 * time.Second).Should(BeElementOf(api.JobStateDone, api.JobStatePaused))
		})

		It("ignores a resume on a job that is not paused", func() {
			job, err := srv.Start(context.TODO(), validInput(1))
			Expect(err).To(BeNil())
			close(release)
			waitForState(job.ID, api.JobStateDone)

			Expect(srv.Resume(context.TODO(), job.ID)).To(Succeed())
			got, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.State).To(Equal(api.JobStateDone))
		})
	})

	Context("cancel", func() {
		It("moves the job to the error state with a distinguished code", func() {
			job, err := srv.Start(context.TODO(), validInput(2))
			Expect(err).To(BeNil())
			waitForState(job.ID, api.JobStateRunning)

			Expect(srv.Cancel(context.TODO(), job.ID)).To(Succeed())

			got, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.State).To(Equal(api.JobStateError))
			Expect(got.LastError).ToNot(BeNil())
			Expect(got.LastError.Code).To(Equal(api.ErrorCodeCancelled))
			Expect(got.LastError.Message).To(Equal("cancelled by user"))
			close(release)
		})

		It("refuses to cancel a finished job", func() {
			job, err := srv.Start(context.TODO(), validInput(1))
			Expect(err).To(BeNil())
			close(release)
			waitForState(job.ID, api.JobStateDone)

			err = srv.Cancel(context.TODO(), job.ID)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrJobFinished{}))
		})

		It("persists the cancellation without waiting for the debounce window", func() {
			job, err := srv.Start(context.TODO(), validInput(2))
			Expect(err).To(BeNil())
			Expect(srv.Cancel(context.TODO(), job.ID)).To(Succeed())

			saved := persister.get(job.ID)
			Expect(saved).ToNot(BeNil())
			Expect(saved.State).To(Equal(api.JobStateError))
			close(release)
		})
	})

	Context("regeneration", func() {
		startDone := func(n int) *api.Job {
			job, err := srv.Start(context.TODO(), validInput(n))
			Expect(err).To(BeNil())
			close(release)
			waitForState(job.ID, api.JobStateDone)
			got, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			return got
		}

		It("regenerates a panel of a finished job", func() {
			job := startDone(2)

			Expect(srv.RegeneratePanel(context.TODO(), job.ID, 1)).To(Succeed())
			waitForState(job.ID, api.JobStateDone)

			got, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Panels[1].Status).To(Equal(api.PanelStatusOk))
			Expect(got.Panels[1].Panel).ToNot(BeNil())
		})

		It("refuses to regenerate a locked panel", func() {
			job := startDone(2)

			Expect(srv.SetPanelLock(context.TODO(), job.ID, 0, true)).To(Succeed())
			err := srv.RegeneratePanel(context.TODO(), job.ID, 0)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrPanelLocked{}))

			Expect(srv.SetPanelLock(context.TODO(), job.ID, 0, false)).To(Succeed())
			Expect(srv.RegeneratePanel(context.TODO(), job.ID, 0)).To(Succeed())
		})

		It("rejects an out-of-range panel index", func() {
			job := startDone(1)
			err := srv.RegeneratePanel(context.TODO(), job.ID, 5)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
		})

		It("rejects an unknown segment", func() {
			job := startDone(1)
			err := srv.RegeneratePanelSegment(context.TODO(), job.ID, 0, "footer")
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
		})

		It("marks the slot with the requested segment", func() {
			job, err := srv.Start(context.TODO(), validInput(1))
			Expect(err).To(BeNil())
			close(release)
			waitForState(job.ID, api.JobStateDone)

			Expect(srv.RegeneratePanelSegment(context.TODO(), job.ID, 0, api.SegmentSummary)).To(Succeed())
			waitForState(job.ID, api.JobStateDone)

			got, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Panels[0].Status).To(Equal(api.PanelStatusOk))
			Expect(got.Panels[0].RegenerateSegment).To(BeEmpty())
		})

		It("refuses regeneration on a failed job", func() {
			job, err := srv.Start(context.TODO(), validInput(1))
			Expect(err).To(BeNil())
			Expect(srv.Cancel(context.TODO(), job.ID)).To(Succeed())
			close(release)

			err = srv.RegeneratePanel(context.TODO(), job.ID, 0)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidTransition{}))
		})
	})

	Context("add panel", func() {
		It("appends a pending slot and finishes it", func() {
			job, err := srv.Start(context.TODO(), validInput(2))
			Expect(err).To(BeNil())
			close(release)
			waitForState(job.ID, api.JobStateDone)

			Expect(srv.AddPanel(context.TODO(), job.ID, "Winterdienst")).To(Succeed())
			waitForState(job.ID, api.JobStateDone)

			got, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Panels).To(HaveLen(3))
			Expect(got.Panels[2].Index).To(Equal(2))
			Expect(got.Panels[2].Status).To(Equal(api.PanelStatusOk))
			Expect(got.Panels[2].Panel.Title).To(ContainSubstring("Winterdienst"))
			Expect(got.Input.PanelCount).To(Equal(3))
		})

		It("keeps existing slot indices stable", func() {
			job, err := srv.Start(context.TODO(), validInput(2))
			Expect(err).To(BeNil())
			close(release)
			waitForState(job.ID, api.JobStateDone)
			before, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())

			Expect(srv.AddPanel(context.TODO(), job.ID, "Winterdienst")).To(Succeed())
			waitForState(job.ID, api.JobStateDone)

			after, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			for i := 0; i < 2; i++ {
				Expect(after.Panels[i].Index).To(Equal(before.Panels[i].Index))
				Expect(after.Panels[i].Panel.Title).To(Equal(before.Panels[i].Panel.Title))
			}
		})
	})

	Context("delete", func() {
		It("removes the job and its persisted row", func() {
			job, err := srv.Start(context.TODO(), validInput(1))
			Expect(err).To(BeNil())
			close(release)
			waitForState(job.ID, api.JobStateDone)
			Expect(persister.get(job.ID)).ToNot(BeNil())

			Expect(srv.Delete(context.TODO(), job.ID)).To(Succeed())
			Expect(persister.get(job.ID)).To(BeNil())

			_, err = srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
		})

		It("returns a not-found error for unknown jobs", func() {
			err := srv.Delete(context.TODO(), uuid.New())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
			close(release)
		})
	})

	Context("lint rerun", func() {
		It("recomputes lint results and scores", func() {
			job, err := srv.Start(context.TODO(), validInput(2))
			Expect(err).To(BeNil())
			close(release)
			waitForState(job.ID, api.JobStateDone)

			Expect(srv.RerunLinter(context.TODO(), job.ID)).To(Succeed())

			got, err := srv.GetStatus(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			for _, slot := range got.Panels {
				Expect(slot.Lint).ToNot(BeNil())
				Expect(slot.QualityScore).To(BeNumerically(">", 0))
				Expect(slot.Stale).To(BeFalse())
			}
		})
	})
})
