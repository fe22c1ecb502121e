package browser

// Scripts evaluated in the page. Every script returns a JSON-serialisable
// value; null and undefined are never returned at the top level.

const jsTagFirst = `function(sel, attr, ref) {
	const el = document.querySelector(sel);
	if (!el) return "";
	const existing = el.getAttribute(attr);
	if (existing) return existing;
	el.setAttribute(attr, ref);
	return ref;
}`

const jsTagAll = `function(sel, attr, base) {
	const refs = [];
	document.querySelectorAll(sel).forEach(function(el, i) {
		let ref = el.getAttribute(attr);
		if (!ref) {
			ref = base + "-" + i;
			el.setAttribute(attr, ref);
		}
		refs.push(ref);
	});
	return refs;
}`

const jsRelease = `function(attr) {
	document.querySelectorAll("[" + attr + "]").forEach(function(el) { el.removeAttribute(attr); });
	return true;
}`

// jsApply wraps a function taking the node as its first argument. The %s
// verb is replaced by that function.
const jsApply = `function(sel) {
	const el = document.querySelector(sel);
	if (!el) return {found: false, value: null};
	const args = Array.prototype.slice.call(arguments, 1);
	const r = (%s).apply(null, [el].concat(args));
	return {found: true, value: r === undefined ? null : r};
}`

const jsInfo = `function(el) {
	const style = window.getComputedStyle(el);
	const info = {
		tag: el.tagName,
		type: el.getAttribute("type") || (el.tagName === "INPUT" ? "text" : ""),
		name: el.getAttribute("name") || "",
		id: el.id || "",
		placeholder: el.getAttribute("placeholder") || "",
		value: "value" in el ? String(el.value) : "",
		text: el.textContent || "",
		classes: Array.from(el.classList),
		disabled: el.hasAttribute("disabled") || el.disabled === true,
		readOnly: el.hasAttribute("readonly") || el.readOnly === true,
		visible: el.type !== "hidden" && style.display !== "none" && style.visibility !== "hidden" &&
			(el.offsetParent !== null || style.position === "fixed"),
		options: []
	};
	if (el.tagName === "SELECT") {
		info.options = Array.from(el.options).map(function(o) { return {value: o.value, text: o.text}; });
	}
	return info;
}`

const jsUnlock = `function(el) {
	el.removeAttribute("disabled");
	el.removeAttribute("readonly");
	if ("disabled" in el) el.disabled = false;
	if ("readOnly" in el) el.readOnly = false;
	el.classList.remove("disabled", "readonly");
	return true;
}`

// jsSetValue assigns through the prototype's native setter so frameworks
// tracking the value property see the change.
const jsSetValue = `function(el, v) {
	let proto = HTMLInputElement.prototype;
	if (el instanceof HTMLTextAreaElement) proto = HTMLTextAreaElement.prototype;
	else if (el instanceof HTMLSelectElement) proto = HTMLSelectElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, "value");
	if (desc && desc.set) desc.set.call(el, v); else el.value = v;
	["input", "change", "blur"].forEach(function(t) {
		el.dispatchEvent(new Event(t, {bubbles: true}));
	});
	return true;
}`

const jsSelectOption = `function(el, v) {
	const opt = Array.from(el.options || []).find(function(o) { return o.value === v; });
	if (!opt) return false;
	el.value = v;
	opt.selected = true;
	["change", "input"].forEach(function(t) {
		el.dispatchEvent(new Event(t, {bubbles: true}));
	});
	return true;
}`

const jsSetText = `function(el, v) {
	el.textContent = v;
	return true;
}`

const jsClick = `function(el) {
	el.click();
	return true;
}`

const jsClosest = `function(el, sel, attr, ref) {
	const found = el.closest(sel);
	if (!found) return "";
	if (!found.getAttribute(attr)) found.setAttribute(attr, ref);
	return found.getAttribute(attr);
}`

const jsFind = `function(el, sel, attr, ref) {
	const found = el.querySelector(sel);
	if (!found) return "";
	if (!found.getAttribute(attr)) found.setAttribute(attr, ref);
	return found.getAttribute(attr);
}`

const jsTypeaheadSelect = `function(el, v) {
	const $ = window.jQuery;
	if (!$ || !$.fn || !$.fn.typeahead) return false;
	const $el = $(el);
	if (!$el.data("ttTypeahead") && !$el.data("typeahead")) return false;
	$el.typeahead("val", v);
	$el.trigger("typeahead:select", [{name: v, value: v}]);
	return true;
}`

const jsClearAndFocus = `function(el) {
	el.value = "";
	el.focus();
	return true;
}`

const jsSetDate = `function(el, y, m, d) {
	const $ = window.jQuery;
	if (!$ || !$.fn || !$.fn.datepicker) return false;
	const $el = $(el);
	if (!$el.hasClass("hasDatepicker") && !$el.data("datepicker")) return false;
	$el.datepicker("setDate", new Date(y, m - 1, d));
	return true;
}`

// jsSimulateDrop builds a File from a data URL and dispatches the drag
// sequence a user drop would produce.
const jsSimulateDrop = `async function(sel, name, dataURL) {
	const el = document.querySelector(sel);
	if (!el) return false;
	const blob = await (await fetch(dataURL)).blob();
	const dt = new DataTransfer();
	dt.items.add(new File([blob], name, {type: blob.type}));
	["dragenter", "dragover", "drop"].forEach(function(t) {
		el.dispatchEvent(new DragEvent(t, {bubbles: true, cancelable: true, dataTransfer: dt}));
	});
	return true;
}`

const jsAddToDropzone = `async function(id, name, dataURL) {
	const form = document.getElementById(id);
	if (!form) return false;
	let dz = form.dropzone;
	if (!dz && window.Dropzone && window.Dropzone.forElement) {
		try { dz = window.Dropzone.forElement(form); } catch (e) { dz = null; }
	}
	if (!dz) return false;
	const blob = await (await fetch(dataURL)).blob();
	dz.addFile(new File([blob], name, {type: blob.type}));
	return true;
}`
