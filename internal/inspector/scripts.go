package inspector

import (
	"fmt"
	"strconv"
)

// blockPseudoElementsCSS stops decorative pseudo-elements from swallowing the pick.
const blockPseudoElementsCSS = `*::before, *::after { pointer-events: none !important; }`

func injectBlockStyleExpr(id string) string {
	return fmt.Sprintf(`(function (id, css) {
	if (document.getElementById(id)) return;
	var style = document.createElement('style');
	style.id = id;
	style.textContent = css;
	(document.head || document.documentElement).appendChild(style);
})(%s, %s)`, strconv.Quote(id), strconv.Quote(blockPseudoElementsCSS))
}

func removeBlockStyleExpr(id string) string {
	return fmt.Sprintf(`(function (id) {
	var style = document.getElementById(id);
	if (style) style.remove();
})(%s)`, strconv.Quote(id))
}

// ancestorChainFn walks from the element to the root and returns entries outermost first.
const ancestorChainFn = `function () {
	var chain = [];
	for (var el = this; el && el.nodeType === 1; el = el.parentElement) {
		var classes = Array.prototype.slice.call(el.classList || []);
		chain.unshift({
			tagName: el.tagName.toLowerCase(),
			id: el.id || "",
			classNames: classes.length ? classes : null
		});
	}
	return chain;
}`

const innerTextFn = `function () { return typeof this.innerText === "string" ? this.innerText : ""; }`
