package server

import (
	"fmt"
	"net/http"
	"strconv"
)

// handleTrackerJS serves the funnel tracking script for offer pages.
func (s *Server) handleTrackerJS(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	serverURL := fmt.Sprintf("%s://%s", scheme, r.Host)

	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Write([]byte(GenerateTrackerScript(serverURL)))
}

// GenerateTrackerScript returns ot.js bound to serverURL. The page marks
// its root with data-op-subject (and optionally data-op-variant); sections
// carry data-op-view="<event>" and calls to action data-op-click. Session
// and variant keys match abtest.Assigner, and a pinned variant is kept even
// when the page's variant set no longer lists it.
func GenerateTrackerScript(serverURL string) string {
	return fmt.Sprintf(`(function(){
  var S=%s;
  var root=document.querySelector('[data-op-subject]');
  if(!root)return;
  var subject=root.dataset.opSubject;

  var sid=localStorage.getItem('ab_session_id');
  if(!sid){
    sid=crypto.randomUUID();
    localStorage.setItem('ab_session_id',sid);
  }

  var variant=root.dataset.opVariant;
  if(!variant){
    var set=JSON.parse(root.dataset.opVariants||'["A","B"]');
    var key='ab_variant:'+subject;
    variant=localStorage.getItem(key);
    if(!variant){
      variant=set[Math.floor(Math.random()*set.length)];
      localStorage.setItem(key,variant);
    }
    root.dataset.opVariant=variant;
  }

  function beacon(e,extra){
    var b={subject:subject,session:sid,variant:variant,event:e};
    if(extra)for(var k in extra)b[k]=extra[k];
    navigator.sendBeacon(S+'/b',JSON.stringify(b));
  }
  beacon('init');

  var seen={};
  if('IntersectionObserver' in window){
    var io=new IntersectionObserver(function(entries){
      entries.forEach(function(en){
        var e=en.target.dataset.opView;
        if(en.isIntersecting&&!seen[e]){
          seen[e]=true;
          beacon(e);
          io.unobserve(en.target);
        }
      });
    },{threshold:0.5});
    document.querySelectorAll('[data-op-view]').forEach(function(el){io.observe(el);});
  }

  document.querySelectorAll('[data-op-click]').forEach(function(el){
    el.addEventListener('click',function(){beacon('click_cta');});
  });

  document.querySelectorAll('form[data-op-form]').forEach(function(f){
    var started=false;
    f.addEventListener('input',function(){
      if(!started){started=true;beacon('start_form');}
    });
    f.addEventListener('submit',function(){beacon('submit_form');});
  });

  var t0=Date.now();
  document.addEventListener('visibilitychange',function(){
    if(document.visibilityState==='hidden'){
      beacon('time',{seconds:Math.round((Date.now()-t0)/1000)});
    }
  });
})();`, strconv.Quote(serverURL))
}
