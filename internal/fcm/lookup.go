package fcm

// find walks the nested index per spec.md §4.3's fixed dimension order,
// returning the matched chain or nil if no path resolves to a leaf.
func (idx *index) find(sock ConnectionSocket) *FilterChain {
	destIPLevel, ok := idx.destPorts[sock.DestinationPort()]
	if !ok {
		destIPLevel, ok = idx.destPorts[0]
		if !ok {
			return nil
		}
	}

	serverNames := destIPLevel.lookup(sock.DestinationIP())
	if serverNames == nil {
		return nil
	}

	transportProtos := serverNames.lookup(sock.RequestedServerName())
	if transportProtos == nil {
		return nil
	}

	appProtos := transportProtos.lookup(sock.DetectedTransportProtocol())
	if appProtos == nil {
		return nil
	}

	directSourceIPs := appProtos.lookup(sock.RequestedApplicationProtocols())
	if directSourceIPs == nil {
		return nil
	}

	sourceTypes := directSourceIPs.lookup(sock.DirectRemoteIP())
	if sourceTypes == nil {
		return nil
	}

	sourceIPs := sourceTypes.lookup(sock.LocalOrUDS())
	if sourceIPs == nil {
		return nil
	}

	sourcePorts := sourceIPs.lookup(sock.RemoteIP())
	if sourcePorts == nil {
		return nil
	}

	return sourcePorts.lookup(sock.RemoteSourcePort())
}
