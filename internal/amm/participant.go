package amm

// Typed publish and subscribe surface. Each On* call installs an
// independent callback; each Publish* delivers one sample to every
// subscriber of that topic on the fabric.

func (p *Participant) PublishOperationalDescription(od OperationalDescription) {
	p.fabric.publish(TopicOperationalDescription, od)
}

func (p *Participant) PublishModuleConfiguration(mc ModuleConfiguration) {
	p.fabric.publish(TopicModuleConfiguration, mc)
}

func (p *Participant) PublishStatus(s Status) {
	p.fabric.publish(TopicStatus, s)
}

func (p *Participant) PublishEventRecord(er EventRecord) {
	p.fabric.publish(TopicEventRecord, er)
}

func (p *Participant) PublishRenderModification(rm RenderModification) {
	p.fabric.publish(TopicRenderModification, rm)
}

func (p *Participant) PublishPhysiologyModification(pm PhysiologyModification) {
	p.fabric.publish(TopicPhysiologyModification, pm)
}

func (p *Participant) PublishSimulationControl(sc SimulationControl) {
	p.fabric.publish(TopicSimulationControl, sc)
}

func (p *Participant) PublishCommand(c Command) {
	p.fabric.publish(TopicCommand, c)
}

func (p *Participant) PublishInstrumentData(id InstrumentData) {
	p.fabric.publish(TopicInstrumentData, id)
}

func (p *Participant) PublishAssessment(a Assessment) {
	p.fabric.publish(TopicAssessment, a)
}

func (p *Participant) PublishPhysiologyValue(v PhysiologyValue) {
	p.fabric.publish(TopicPhysiologyValue, v)
}

func (p *Participant) PublishPhysiologyWaveform(w PhysiologyWaveform) {
	p.fabric.publish(TopicPhysiologyWaveform, w)
}

func (p *Participant) PublishOmittedEvent(oe OmittedEvent) {
	p.fabric.publish(TopicOmittedEvent, oe)
}

func (p *Participant) OnOperationalDescription(fn func(OperationalDescription)) {
	p.subscribe(TopicOperationalDescription, func(s any) {
		if v, ok := s.(OperationalDescription); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnModuleConfiguration(fn func(ModuleConfiguration)) {
	p.subscribe(TopicModuleConfiguration, func(s any) {
		if v, ok := s.(ModuleConfiguration); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnStatus(fn func(Status)) {
	p.subscribe(TopicStatus, func(s any) {
		if v, ok := s.(Status); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnEventRecord(fn func(EventRecord)) {
	p.subscribe(TopicEventRecord, func(s any) {
		if v, ok := s.(EventRecord); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnOmittedEvent(fn func(OmittedEvent)) {
	p.subscribe(TopicOmittedEvent, func(s any) {
		if v, ok := s.(OmittedEvent); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnRenderModification(fn func(RenderModification)) {
	p.subscribe(TopicRenderModification, func(s any) {
		if v, ok := s.(RenderModification); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnPhysiologyModification(fn func(PhysiologyModification)) {
	p.subscribe(TopicPhysiologyModification, func(s any) {
		if v, ok := s.(PhysiologyModification); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnSimulationControl(fn func(SimulationControl)) {
	p.subscribe(TopicSimulationControl, func(s any) {
		if v, ok := s.(SimulationControl); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnCommand(fn func(Command)) {
	p.subscribe(TopicCommand, func(s any) {
		if v, ok := s.(Command); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnInstrumentData(fn func(InstrumentData)) {
	p.subscribe(TopicInstrumentData, func(s any) {
		if v, ok := s.(InstrumentData); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnAssessment(fn func(Assessment)) {
	p.subscribe(TopicAssessment, func(s any) {
		if v, ok := s.(Assessment); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnPhysiologyValue(fn func(PhysiologyValue)) {
	p.subscribe(TopicPhysiologyValue, func(s any) {
		if v, ok := s.(PhysiologyValue); ok {
			fn(v)
		}
	})
}

func (p *Participant) OnPhysiologyWaveform(fn func(PhysiologyWaveform)) {
	p.subscribe(TopicPhysiologyWaveform, func(s any) {
		if v, ok := s.(PhysiologyWaveform); ok {
			fn(v)
		}
	})
}
