// Package simulator generates a synthetic ward: it seeds patients, drifts their vitals and
// churns admissions and discharges on cron schedules.
package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"vitalwatch/internal/config"
	"vitalwatch/internal/model"
	"vitalwatch/internal/service"
)

const jobTimeout = 10 * time.Second

type Options struct {
	SeedPatients   int
	VitalsSchedule string
	CensusSchedule string
	VitalsPerTick  int
	Rooms          []string
	// Seed fixes the random source; zero picks one from the clock.
	Seed uint64
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SeedPatients:   cfg.Simulator.SeedPatients,
		VitalsSchedule: cfg.Simulator.VitalsSchedule,
		CensusSchedule: cfg.Simulator.CensusSchedule,
		VitalsPerTick:  cfg.Simulator.VitalsPerTick,
		Rooms:          cfg.Simulator.Rooms,
	}
}

type Simulator struct {
	app  *service.App
	opts Options
	log  *logrus.Logger
	cron *cron.Cron

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(app *service.App, opts Options, log *logrus.Logger) *Simulator {
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if opts.VitalsPerTick <= 0 {
		opts.VitalsPerTick = 1
	}
	if len(opts.Rooms) == 0 {
		opts.Rooms = []string{"101"}
	}
	return &Simulator{
		app:      app,
		opts:     opts,
		log:      log,
		cron:     cron.New(),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		inflight: map[string]struct{}{},
	}
}

// Register installs the vitals and census jobs. Empty schedules are skipped.
func (s *Simulator) Register() error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"vitals", s.opts.VitalsSchedule, func(ctx context.Context) error { _, err := s.TickVitals(ctx); return err }},
		{"census", s.opts.CensusSchedule, s.TickCensus},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		name, run := job.name, job.run
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(name, run) }); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", name, job.spec, err)
		}
	}
	return nil
}

func (s *Simulator) Start() {
	s.cron.Start()
}

// Stop halts the scheduler; the returned context is done once running jobs have finished.
func (s *Simulator) Stop() context.Context {
	return s.cron.Stop()
}

// runJob skips a tick while the previous run of the same job is still going.
func (s *Simulator) runJob(name string, run func(context.Context) error) {
	s.mu.Lock()
	if _, ok := s.inflight[name]; ok {
		s.mu.Unlock()
		return
	}
	s.inflight[name] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, name)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := run(ctx); err != nil {
		s.log.WithError(err).WithField("job", name).Warn("simulator job failed")
	}
}

// Seed admits patients until the ward holds at least n.
func (s *Simulator) Seed(ctx context.Context, n int) (int, error) {
	current, err := s.app.Store.CountActivePatients(ctx)
	if err != nil {
		return 0, err
	}
	admitted := 0
	for ; current+admitted < n; admitted++ {
		if _, err := s.app.AdmitPatient(ctx, s.randomAdmission()); err != nil {
			return admitted, err
		}
	}
	if admitted > 0 {
		s.log.WithField("patients", admitted).Info("seeded patients")
	}
	return admitted, nil
}

// TickVitals drifts the vitals of up to VitalsPerTick random patients and returns how many
// were updated.
func (s *Simulator) TickVitals(ctx context.Context) (int, error) {
	patients, err := s.app.Store.ListAllPatients(ctx, "")
	if err != nil {
		return 0, err
	}
	if len(patients) == 0 {
		return 0, nil
	}
	picks := s.pick(len(patients), s.opts.VitalsPerTick)
	updated := 0
	for _, i := range picks {
		delta := s.drift(patients[i].Vitals)
		if delta.IsEmpty() {
			continue
		}
		if _, err := s.app.UpdateVitals(ctx, patients[i].ID, delta); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// TickCensus admits when the ward is below the seed size, discharges when above, and
// otherwise flips a coin.
func (s *Simulator) TickCensus(ctx context.Context) error {
	current, err := s.app.Store.CountActivePatients(ctx)
	if err != nil {
		return err
	}
	admit := current < s.opts.SeedPatients
	if current == s.opts.SeedPatients {
		admit = s.intN(2) == 0
	}
	if admit || current == 0 {
		p, err := s.app.AdmitPatient(ctx, s.randomAdmission())
		if err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{"patient_id": p.ID, "room": p.Room}).Debug("simulated admission")
		return nil
	}

	patients, err := s.app.Store.ListAllPatients(ctx, "")
	if err != nil || len(patients) == 0 {
		return err
	}
	victim := patients[s.intN(len(patients))]
	if _, err := s.app.DischargePatient(ctx, victim.ID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"patient_id": victim.ID, "room": victim.Room}).Debug("simulated discharge")
	return nil
}

var (
	firstNames = []string{"Ada", "Alan", "Barbara", "Claude", "Dennis", "Edsger", "Frances", "Grace",
		"Hedy", "Ivan", "Joan", "Ken", "Leslie", "Margaret", "Niklaus", "Radia", "Sophie", "Tim"}
	lastNames = []string{"Allen", "Backus", "Cerf", "Dijkstra", "Engelbart", "Floyd", "Goldberg",
		"Hamilton", "Knuth", "Lamport", "Liskov", "Perlman", "Ritchie", "Shannon", "Thompson", "Wirth"}
	genders = []model.Gender{model.GenderFemale, model.GenderMale, model.GenderOther}
)

func (s *Simulator) randomAdmission() service.AdmitInput {
	return service.AdmitInput{
		Name:   firstNames[s.intN(len(firstNames))] + " " + lastNames[s.intN(len(lastNames))],
		Age:    18 + s.intN(75),
		Gender: genders[s.intN(len(genders))],
		Room:   s.opts.Rooms[s.intN(len(s.opts.Rooms))],
		Vitals: model.Vitals{
			HeartRate:        60 + s.intN(40),
			BloodPressure:    model.BloodPressure{Systolic: 100 + s.intN(40), Diastolic: 65 + s.intN(20)},
			OxygenSaturation: 94 + s.intN(6),
			Temperature:      math.Round((36.2+s.float()*1.2)*10) / 10,
			RespiratoryRate:  12 + s.intN(8),
		},
	}
}

// drift nudges one to three vitals by a small random step, clamped to plausible ranges.
func (s *Simulator) drift(v model.Vitals) model.VitalsDelta {
	var d model.VitalsDelta
	fields := s.pick(5, 1+s.intN(3))
	for _, f := range fields {
		switch f {
		case 0:
			d.HeartRate = model.IntPtr(clamp(v.HeartRate+s.step(4), 35, 180))
		case 1:
			d.BloodPressure = &model.BloodPressureDelta{
				Systolic:  model.IntPtr(clamp(v.BloodPressure.Systolic+s.step(5), 70, 200)),
				Diastolic: model.IntPtr(clamp(v.BloodPressure.Diastolic+s.step(3), 40, 130)),
			}
		case 2:
			d.OxygenSaturation = model.IntPtr(clamp(v.OxygenSaturation+s.step(1), 80, 100))
		case 3:
			t := math.Round((v.Temperature+float64(s.step(2))/10)*10) / 10
			d.Temperature = model.FloatPtr(math.Max(34.5, math.Min(41.5, t)))
		case 4:
			d.RespiratoryRate = model.IntPtr(clamp(v.RespiratoryRate+s.step(2), 6, 40))
		}
	}
	return d
}

// pick returns k distinct indices from [0, n).
func (s *Simulator) pick(n, k int) []int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	if k > n {
		k = n
	}
	return s.rng.Perm(n)[:k]
}

func (s *Simulator) intN(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

func (s *Simulator) float() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

// step returns a value in [-limit, limit].
func (s *Simulator) step(limit int) int {
	return s.intN(2*limit+1) - limit
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
