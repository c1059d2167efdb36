//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/kidguard/internal/config"
	"github.com/eliteGoblin/focusd/kidguard/internal/daemon"
	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
	"github.com/eliteGoblin/focusd/kidguard/internal/infra"
	"github.com/eliteGoblin/focusd/kidguard/internal/scheduler"
	"github.com/eliteGoblin/focusd/kidguard/internal/usecase"
)

const home = config.DefaultSelfPackage

// chanSource is a SignalSource fed by the test.
type chanSource struct{ ch chan domain.Signal }

func (s *chanSource) Stream(ctx context.Context, out chan<- domain.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-s.ch:
			select {
			case out <- sig:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

var _ = Describe("Enforcement daemon", func() {
	var (
		tmpDir  string
		store   *infra.Store
		device  *infra.SimulatedDevice
		engine  *usecase.Engine
		signals *chanSource
		cancel  context.CancelFunc
		done    chan error
	)

	snapshot := func() domain.EngineSnapshot {
		ctx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		snap, err := engine.Snapshot(ctx)
		Expect(err).NotTo(HaveOccurred())
		return snap
	}

	open := func(pkg string) {
		device.Open(pkg)
		signals.ch <- domain.Signal{Kind: domain.SignalWindowState, Package: pkg, At: time.Now()}
	}

	enableKidMode := func() {
		Expect(store.SetKidMode(true)).To(Succeed())
		Eventually(func() bool { return snapshot().Polling }, 2*time.Second, 20*time.Millisecond).Should(BeTrue())
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "kidguard-integration-*")
		Expect(err).NotTo(HaveOccurred())

		key, err := infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		store, err = infra.NewStore(tmpDir, key, nil)
		Expect(err).NotTo(HaveOccurred())

		clock := scheduler.SystemClock{}
		device = infra.NewSimulatedDevice(clock, home)

		cfg := usecase.DefaultEngineConfig(home)
		cfg.GracePeriod = 200 * time.Millisecond
		cfg.SecondCheckDelay = 50 * time.Millisecond
		cfg.PollInterval = 50 * time.Millisecond
		cfg.StartupChecks = []time.Duration{20 * time.Millisecond}

		loop := scheduler.NewLoop()
		engine = usecase.NewEngine(cfg, loop, clock, store, device, device, nil)
		signals = &chanSource{ch: make(chan domain.Signal, 8)}

		d := domain.Daemon{PID: os.Getpid(), Role: domain.RoleEnforcer, StartedAt: time.Now(), AppVersion: "integration"}
		supervisor := daemon.NewSupervisor(
			daemon.SupervisorConfig{
				HeartbeatInterval: 50 * time.Millisecond,
				ReconcileInterval: 50 * time.Millisecond,
				SignalRetryDelay:  10 * time.Millisecond,
				WatchDir:          tmpDir,
			},
			engine, loop, store, signals, store, nil, d, nil,
		)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- supervisor.Run(ctx) }()
	})

	AfterEach(func() {
		cancel()
		Eventually(done, 3*time.Second).Should(Receive(BeNil()))
		Expect(store.Close()).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	Describe("registration", func() {
		It("should record the enforcer pid and keep the heartbeat fresh", func() {
			Eventually(func() int {
				entry, err := store.GetAll()
				if err != nil || entry == nil {
					return 0
				}
				return entry.EnforcerPID
			}, 2*time.Second, 20*time.Millisecond).Should(Equal(os.Getpid()))

			entry, err := store.GetAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.LastHeartbeat).To(BeNumerically(">", 0))
		})
	})

	Describe("with kid mode on", func() {
		BeforeEach(enableKidMode)

		It("should send a disallowed app home after the grace period", func() {
			open("com.random.game")

			Consistently(device.Foreground, 100*time.Millisecond, 20*time.Millisecond).Should(Equal("com.random.game"))
			Eventually(device.Foreground, 2*time.Second, 20*time.Millisecond).Should(Equal(home))

			actions := device.Actions()
			Expect(actions).NotTo(BeEmpty())
			Expect(actions[0].Foreground).To(Equal("com.random.game"))
			Expect(snapshot().LastRemediation.Reason).To(Equal(domain.ReasonGraceExpired))
		})

		It("should send settings home immediately", func() {
			open("com.android.settings")

			Eventually(device.Foreground, 150*time.Millisecond, 10*time.Millisecond).Should(Equal(home))
			Expect(snapshot().LastRemediation.Reason).To(Equal(domain.ReasonSettings))
		})

		It("should leave whitelisted apps alone", func() {
			Expect(store.AddToWhitelist("org.khanacademy.android")).To(Succeed())
			open("org.khanacademy.android")

			Consistently(device.Foreground, 500*time.Millisecond, 25*time.Millisecond).Should(Equal("org.khanacademy.android"))
			Expect(device.Actions()).To(BeEmpty())
		})
	})

	Describe("turning kid mode off", func() {
		BeforeEach(enableKidMode)

		It("should stop enforcing", func() {
			Expect(store.SetKidMode(false)).To(Succeed())
			Eventually(func() bool { return snapshot().Running }, 2*time.Second, 20*time.Millisecond).Should(BeFalse())

			open("com.random.game")
			Consistently(device.Foreground, 400*time.Millisecond, 25*time.Millisecond).Should(Equal("com.random.game"))
		})
	})
})
