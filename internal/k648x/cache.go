package k648x

// readCache serves identity strings and fields of the last reading. It
// never touches the transport. No cached field is a float, so float64
// requests succeed empty.
func (s *Session) readCache(op cacheOp, k Kind) Value {
	switch k {
	case KindOctet:
		var str string
		switch op {
		case cacheModel:
			str = s.identity.Model
		case cacheSerial:
			str = s.identity.Serial
		case cacheDigRev:
			str = s.identity.DigRev
		case cacheDispRev:
			str = s.identity.DispRev
		case cacheBrdRev:
			str = s.identity.BrdRev
		default:
			return noValue(k)
		}
		return octetResult(str, 0)

	case KindInt32:
		st := s.reading.Status
		var v int32
		switch op {
		case cacheTimestamp:
			v = s.reading.Timestamp
		case cacheStatusRaw:
			v = int32(st)
		case cacheStatusOverflow:
			v = st.Overflow()
		case cacheStatusFilter:
			v = st.Filter()
		case cacheStatusMath:
			v = st.Math()
		case cacheStatusNull:
			v = st.Null()
		case cacheStatusLimits:
			v = st.Limits()
		case cacheStatusOvervoltage:
			v = st.Overvoltage()
		case cacheStatusZeroCheck:
			v = st.ZeroCheck()
		case cacheStatusZeroCorrect:
			v = st.ZeroCorrect()
		default:
			return noValue(k)
		}
		return Int32Value(v)
	}
	return noValue(k)
}
