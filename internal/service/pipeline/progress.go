package pipeline

import (
	"github.com/vividoc/backend/internal/domain"
)

// 进度百分比分配：规划 0-10，执行与评估轮次平分 10-95，剩余部分在任务完成时补齐
const (
	planningDone   = 10.0
	executionEnd   = 95.0
	evaluatingPart = 0.1 // 每轮中留给评估的份额
)

// Reporter 接收进度快照，调用来自同一个 goroutine，按事件顺序到达
type Reporter interface {
	Report(info domain.ProgressInfo)
}

// ReporterFunc 函数适配器
type ReporterFunc func(info domain.ProgressInfo)

func (f ReporterFunc) Report(info domain.ProgressInfo) { f(info) }

// event 流水线内部的进度事件，同一次运行只有一个通道
type event struct {
	phase     domain.Phase
	round     int
	planned   *domain.DocumentSpec
	targets   []string // 非空时表示新一轮执行开始
	unit      *domain.UnitEvent
	evaluated bool
}

// progress 把事件折算成进度快照，只在转发 goroutine 中使用
type progress struct {
	slots    float64
	info     domain.ProgressInfo
	index    map[string]int
	targets  map[string]bool
	fraction map[string]float64
	cycle    int
}

func newProgress(maxRevisionRounds int) *progress {
	if maxRevisionRounds < 0 {
		maxRevisionRounds = 0
	}
	return &progress{
		slots:    float64(1 + maxRevisionRounds),
		info:     domain.ProgressInfo{Phase: domain.PhasePlanning},
		index:    make(map[string]int),
		targets:  make(map[string]bool),
		fraction: make(map[string]float64),
	}
}

func (p *progress) slotSize() float64 {
	return (executionEnd - planningDone) / p.slots
}

func (p *progress) slotBase() float64 {
	cycle := float64(p.cycle)
	if cycle >= p.slots {
		cycle = p.slots - 1
	}
	return planningDone + cycle*p.slotSize()
}

func (p *progress) apply(e event) domain.ProgressInfo {
	switch {
	case e.planned != nil:
		p.info.PerUnit = make([]domain.UnitProgress, len(e.planned.Units))
		for i, u := range e.planned.Units {
			p.index[u.ID] = i
			p.info.PerUnit[i] = domain.UnitProgress{ID: u.ID, Title: u.Title(), Stage: domain.StagePending}
		}
		p.setPercent(planningDone)

	case e.targets != nil:
		p.cycle = e.round
		p.info.Phase = domain.PhaseExecuting
		p.info.Round = e.round
		p.targets = make(map[string]bool, len(e.targets))
		p.fraction = make(map[string]float64, len(e.targets))
		for _, id := range e.targets {
			p.targets[id] = true
			if i, ok := p.index[id]; ok {
				// 新一轮允许阶段重置
				p.info.PerUnit[i].Stage = domain.StagePending
			}
		}
		p.info.CurrentUnit = nil
		p.info.UnitStage = nil
		p.setPercent(p.slotBase())

	case e.unit != nil:
		p.applyUnit(*e.unit)

	case e.evaluated:
		p.info.CurrentUnit = nil
		p.info.UnitStage = nil
		p.setPercent(p.slotBase() + p.slotSize())

	default:
		p.info.Phase = e.phase
		if e.phase == domain.PhaseEvaluating {
			p.info.CurrentUnit = nil
			p.info.UnitStage = nil
			p.setPercent(p.slotBase() + p.slotSize()*(1-evaluatingPart))
		}
	}
	return p.info.Clone()
}

func (p *progress) applyUnit(ev domain.UnitEvent) {
	i, ok := p.index[ev.UnitID]
	if !ok {
		return
	}
	cur := p.info.PerUnit[i].Stage
	if ev.Stage.Rank() >= cur.Rank() {
		p.info.PerUnit[i].Stage = ev.Stage
	}
	stage := p.info.PerUnit[i].Stage
	id := ev.UnitID
	p.info.CurrentUnit = &id
	p.info.UnitStage = &stage

	if p.targets[ev.UnitID] {
		if f := stageFraction(stage); f > p.fraction[ev.UnitID] {
			p.fraction[ev.UnitID] = f
		}
	}
	var sum float64
	for _, f := range p.fraction {
		sum += f
	}
	done := 0.0
	if n := len(p.targets); n > 0 {
		done = sum / float64(n)
	}
	p.setPercent(p.slotBase() + p.slotSize()*(1-evaluatingPart)*done)
}

func (p *progress) setPercent(v float64) {
	if v > p.info.OverallPercent {
		p.info.OverallPercent = v
	}
}

func stageFraction(s domain.UnitStage) float64 {
	switch s {
	case domain.StageDrafting:
		return 0.25
	case domain.StageRefining:
		return 0.75
	case domain.StageDone:
		return 1
	default:
		return 0
	}
}
