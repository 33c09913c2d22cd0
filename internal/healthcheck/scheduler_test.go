package healthcheck_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/mesh-gateway/internal/healthcheck"
)

var _ = Describe("Scheduler", func() {
	It("should reject sub-second intervals", func() {
		scheduler := healthcheck.NewScheduler(quietLogger())
		Expect(scheduler.Add("sweep", 500*time.Millisecond, func(context.Context) {})).
			To(MatchError(ContainSubstring("below one second")))
	})

	It("should run jobs until the context is cancelled", func() {
		scheduler := healthcheck.NewScheduler(quietLogger())

		var runs atomic.Int32
		Expect(scheduler.Add("sweep", time.Second, func(context.Context) {
			runs.Add(1)
		})).To(Succeed())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			scheduler.Run(ctx)
			close(done)
		}()

		Eventually(runs.Load, 3*time.Second, 50*time.Millisecond).Should(BeNumerically(">=", 1))

		cancel()
		Eventually(done, time.Second).Should(BeClosed())

		seen := runs.Load()
		Consistently(runs.Load, 1500*time.Millisecond, 100*time.Millisecond).Should(Equal(seen))
	})

	It("should keep running after a job panics", func() {
		scheduler := healthcheck.NewScheduler(quietLogger())

		var runs atomic.Int32
		Expect(scheduler.Add("flaky", time.Second, func(context.Context) {
			runs.Add(1)
			panic("boom")
		})).To(Succeed())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go scheduler.Run(ctx)

		Eventually(runs.Load, 4*time.Second, 50*time.Millisecond).Should(BeNumerically(">=", 2))
	})
})
