package mp4io

func typed[T any, P interface {
	*T
	Box
}]() Factory {
	return func(Tag) Box { return P(new(T)) }
}

// DefaultRegistry returns a registry with every box type this package implements.
// Each call returns an independent registry that can be extended with Register.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.RegisterContainer(MOOV, TRAK, TREF, EDTS, MDIA, MINF, DINF, STBL, MVEX, MOOF, TRAF, MFRA, UDTA, SINF, SCHI)

	reg.Register(FTYP, newFileType)
	reg.Register(STYP, newFileType)
	reg.Register(STCO, newChunkOffset)
	reg.Register(CO64, newChunkOffset)
	reg.Register(FREE, func(tag Tag) Box { return &FreeSpace{Type: tag} })
	reg.Register(SKIP, func(tag Tag) Box { return &FreeSpace{Type: tag} })

	reg.Register(MDAT, typed[MediaData]())
	reg.Register(UUID, typed[UserTypeBox]())
	reg.Register(MVHD, typed[MovieHeader]())
	reg.Register(TKHD, typed[TrackHeader]())
	reg.Register(MDHD, typed[MediaHeader]())
	reg.Register(HDLR, typed[HandlerRefer]())
	reg.Register(VMHD, typed[VideoMediaInfo]())
	reg.Register(SMHD, typed[SoundMediaInfo]())
	reg.Register(NMHD, typed[NullMediaInfo]())
	reg.Register(DREF, typed[DataRefer]())
	reg.Register(URL, typed[DataReferUrl]())
	reg.Register(STSD, typed[SampleDesc]())
	reg.Register(STTS, typed[TimeToSample]())
	reg.Register(CTTS, typed[CompositionOffset]())
	reg.Register(STSC, typed[SampleToChunk]())
	reg.Register(STSZ, typed[SampleSize]())
	reg.Register(STSS, typed[SyncSample]())
	reg.Register(ELST, typed[EditList]())
	reg.Register(MEHD, typed[MovieExtendHeader]())
	reg.Register(TREX, typed[TrackExtend]())
	reg.Register(MFHD, typed[MovieFragHeader]())
	reg.Register(TFHD, typed[TrackFragHeader]())
	reg.Register(TFDT, typed[TrackFragDecodeTime]())
	reg.Register(TRUN, typed[TrackFragRun]())
	reg.Register(SIDX, typed[SegmentIndex]())
	reg.Register(PRFT, typed[ProducerReferenceTime]())
	reg.Register(PSSH, typed[ProtectionSystemHeader]())
	reg.Register(SENC, typed[SampleEncryption]())
	reg.Register(SAIZ, typed[SampleAuxInfoSizes]())
	reg.Register(SAIO, typed[SampleAuxInfoOffsets]())

	reg.RegisterChildren(STSD, newSampleEntry)
	return reg
}
