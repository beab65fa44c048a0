package browser

// Every script is a function expression evaluated with rod's Page.Eval.
// Speaker scripts return raw tile ids, participant scripts return
// [{raw_id, muted}] and caption observers push {speaker, text, ts} records
// onto window.__meetingBotCaptions.

const teamsSpeakersJS = `() => {
	const indicators = document.querySelectorAll(
		'[data-tid="voice-level-stream-outline"].vdi-frame-occlusion, [data-is-speaking="true"], [data-is-dominant-speaker="true"]');
	const out = [];
	indicators.forEach((el) => {
		const tile = el.closest('[data-stream-type="Video"][data-tid]');
		if (tile) out.push(tile.getAttribute('data-tid') || '');
	});
	return out;
}`

const teamsParticipantsJS = `() => {
	const muted = (tile) => {
		for (const path of tile.querySelectorAll('svg path')) {
			const d = path.getAttribute('d') || '';
			if (d.includes('l15 15') || d.includes('2.146 2.854') || d.includes('l-15-15')) return true;
		}
		return false;
	};
	return Array.from(document.querySelectorAll('[data-stream-type="Video"][data-tid]')).map((tile) => ({
		raw_id: tile.getAttribute('data-tid') || '',
		muted: muted(tile),
	}));
}`

const teamsCaptionsJS = `() => {
	if (window.__meetingBotCaptionObserver) return true;
	window.__meetingBotCaptions = window.__meetingBotCaptions || [];
	const seen = new WeakMap();
	const collect = () => {
		document.querySelectorAll('[data-tid="closed-caption-text"], .ts-caption-text, [class*="caption-text"]').forEach((el) => {
			const text = (el.innerText || '').trim();
			if (!text || seen.get(el) === text) return;
			seen.set(el, text);
			const row = el.closest('[class*="caption"]') || el.parentElement;
			const name = row && row.querySelector('[data-tid="closed-caption-speaker-name"], .caption-speaker-name, [class*="speaker-name"]');
			window.__meetingBotCaptions.push({speaker: name ? name.innerText.trim() : 'Unknown Speaker', text: text, ts: Date.now()});
		});
	};
	window.__meetingBotCaptionObserver = new MutationObserver(collect);
	window.__meetingBotCaptionObserver.observe(document.body, {childList: true, subtree: true, characterData: true});
	return true;
}`

const meetSpeakersJS = `() => {
	const out = [];
	document.querySelectorAll('[data-participant-id]').forEach((tile) => {
		const indicator = tile.querySelector('[data-audio-level]:not([data-audio-level="0"]), .IisKdb.gjg47c');
		if (!indicator) return;
		const name = tile.querySelector('[data-self-name], .zWGUib, .XEazBc');
		if (name) out.push(name.innerText || '');
	});
	return out;
}`

const meetParticipantsJS = `() => {
	return Array.from(document.querySelectorAll('[data-participant-id]')).map((tile) => {
		const name = tile.querySelector('[data-self-name], .zWGUib, .XEazBc');
		return {
			raw_id: name ? (name.innerText || '') : '',
			muted: !!tile.querySelector('[data-is-muted="true"], .FTMc0c'),
		};
	});
}`

const meetCaptionsJS = `() => {
	if (window.__meetingBotCaptionObserver) return true;
	window.__meetingBotCaptions = window.__meetingBotCaptions || [];
	const pending = new Map();
	const collect = () => {
		const scope = document.querySelector('[jsname="dsyhDe"]') || document.querySelector('.a4cQT') || document.body;
		scope.querySelectorAll('.ygicle, .VbkSUe, .bh44bd, .iTTPOb, .CNusmb').forEach((el) => {
			const current = (el.innerText || '').trim();
			if (!current || el.dataset.lastEmitted === current) return;
			let speaker = 'Unknown Speaker';
			const row = el.closest('.nMcdL') || el.closest('.bj4p3b');
			const nameSpan = row && row.querySelector('.NWpY1d');
			if (nameSpan) speaker = nameSpan.innerText;
			const sender = el.closest('[data-sender-name]');
			if (speaker === 'Unknown Speaker' && sender) speaker = sender.getAttribute('data-sender-name');
			if (pending.has(el)) clearTimeout(pending.get(el));
			pending.set(el, setTimeout(() => {
				pending.delete(el);
				const last = el.dataset.lastEmitted || '';
				let text = current;
				if (last && current.startsWith(last)) text = current.slice(last.length).trim();
				el.dataset.lastEmitted = current;
				if (text) window.__meetingBotCaptions.push({speaker: speaker, text: text, ts: Date.now()});
			}, 2500));
		});
	};
	window.__meetingBotCaptionObserver = new MutationObserver(collect);
	window.__meetingBotCaptionObserver.observe(document.body, {childList: true, subtree: true, characterData: true});
	return true;
}`

const zoomSpeakersJS = `() => {
	const out = [];
	document.querySelectorAll('.speaker-active-container__video-frame, .video-avatar__avatar--speaking').forEach((el) => {
		const tile = el.closest('.video-avatar__avatar') || el;
		const name = tile.querySelector('.video-avatar__avatar-name, .video-avatar__avatar-footer span');
		if (name) out.push(name.innerText || '');
	});
	return out;
}`

const zoomParticipantsJS = `() => {
	return Array.from(document.querySelectorAll('.video-avatar__avatar')).map((tile) => {
		const name = tile.querySelector('.video-avatar__avatar-name, .video-avatar__avatar-footer span');
		return {
			raw_id: name ? (name.innerText || '') : '',
			muted: !!tile.querySelector('.video-avatar__avatar-footer--muted, [class*="audio-muted"]'),
		};
	});
}`

// drainCaptionsJS returns and clears the buffered caption records.
const drainCaptionsJS = `() => {
	const out = window.__meetingBotCaptions || [];
	window.__meetingBotCaptions = [];
	return out;
}`

const inMeetingJS = `(selectors) => {
	return selectors.some((s) => {
		const el = document.querySelector(s);
		return !!el && el.offsetParent !== null;
	});
}`

const removedJS = `(texts) => {
	const body = document.body ? document.body.innerText : '';
	return texts.some((t) => body.includes(t));
}`

const clickLeaveJS = `(selectors) => {
	for (const s of selectors) {
		const el = document.querySelector(s);
		if (el) { el.click(); return true; }
	}
	return false;
}`

// startAudioJS mixes every media element of the page into one stream and
// forwards one-second webm/opus chunks to the exposed sendAudioChunk binding
// as base64. It returns the epoch milliseconds of the first sample.
const startAudioJS = `() => {
	if (window.__meetingBotRecorder) return window.__meetingBotAudioStart;
	const ctx = new AudioContext({sampleRate: 48000});
	const dest = ctx.createMediaStreamDestination();
	const hooked = new WeakSet();
	const hook = (el) => {
		if (hooked.has(el)) return;
		const stream = el.srcObject || (el.captureStream ? el.captureStream() : null);
		if (!stream || stream.getAudioTracks().length === 0) return;
		hooked.add(el);
		ctx.createMediaStreamSource(stream).connect(dest);
	};
	document.querySelectorAll('audio, video').forEach(hook);
	window.__meetingBotAudioObserver = new MutationObserver(() => document.querySelectorAll('audio, video').forEach(hook));
	window.__meetingBotAudioObserver.observe(document.body, {childList: true, subtree: true});

	const recorder = new MediaRecorder(dest.stream, {mimeType: 'audio/webm;codecs=opus'});
	recorder.ondataavailable = async (e) => {
		if (!e.data || e.data.size === 0) return;
		const buf = new Uint8Array(await e.data.arrayBuffer());
		let bin = '';
		for (let i = 0; i < buf.length; i += 0x8000) {
			bin += String.fromCharCode.apply(null, buf.subarray(i, i + 0x8000));
		}
		window.sendAudioChunk(btoa(bin));
	};
	recorder.start(1000);
	window.__meetingBotRecorder = recorder;
	window.__meetingBotAudioContext = ctx;
	window.__meetingBotAudioStart = Date.now();
	return window.__meetingBotAudioStart;
}`

const stopAudioJS = `() => new Promise((resolve) => {
	const recorder = window.__meetingBotRecorder;
	if (!recorder || recorder.state === 'inactive') return resolve(false);
	recorder.addEventListener('stop', () => {
		if (window.__meetingBotAudioObserver) window.__meetingBotAudioObserver.disconnect();
		if (window.__meetingBotAudioContext) window.__meetingBotAudioContext.close();
		window.__meetingBotRecorder = null;
		resolve(true);
	});
	recorder.stop();
})`
